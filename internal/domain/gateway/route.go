package gateway

import (
	"fmt"
	"time"
)

// Strategy names a load-balancing algorithm
type Strategy string

const (
	StrategyRoundRobin               Strategy = "round_robin"
	StrategyWeightedRoundRobin       Strategy = "weighted_round_robin"
	StrategyLeastConnections         Strategy = "least_connections"
	StrategyLeastResponseTime        Strategy = "least_response_time"
	StrategyIPHash                   Strategy = "ip_hash"
	StrategyWeightedLeastConnections Strategy = "weighted_least_connections"
	StrategyAdaptive                 Strategy = "adaptive"
)

// AllStrategies returns every supported strategy
func AllStrategies() []Strategy {
	return []Strategy{
		StrategyRoundRobin,
		StrategyWeightedRoundRobin,
		StrategyLeastConnections,
		StrategyLeastResponseTime,
		StrategyIPHash,
		StrategyWeightedLeastConnections,
		StrategyAdaptive,
	}
}

// IsValid checks if the strategy is one of the supported ones
func (s Strategy) IsValid() bool {
	for _, candidate := range AllStrategies() {
		if s == candidate {
			return true
		}
	}
	return false
}

// String returns the string representation of the strategy
func (s Strategy) String() string {
	return string(s)
}

// ParseStrategy converts a config value into a Strategy. Empty means round robin.
func ParseStrategy(v string) (Strategy, error) {
	if v == "" {
		return StrategyRoundRobin, nil
	}
	s := Strategy(v)
	if !s.IsValid() {
		return "", fmt.Errorf("gateway: unknown load balancing strategy %q", v)
	}
	return s, nil
}

// TransformKind names one declarative rewrite rule
type TransformKind string

const (
	TransformStripPrefix    TransformKind = "strip_prefix"
	TransformAddPrefix      TransformKind = "add_prefix"
	TransformRewritePath    TransformKind = "rewrite_path"
	TransformSetHeader      TransformKind = "set_header"
	TransformRemoveHeader   TransformKind = "remove_header"
	TransformRenameField    TransformKind = "rename_field"
	TransformRemoveField    TransformKind = "remove_field"
	TransformSetField       TransformKind = "set_field"
	TransformSetQuery       TransformKind = "set_query"
	TransformRemoveQuery    TransformKind = "remove_query"
	TransformResponseHeader TransformKind = "set_response_header"
	TransformResponseRemove TransformKind = "remove_response_header"
	// TransformConvertBody re-encodes the request body; Value is the upstream
	// format and Target an optional XML root element.
	TransformConvertBody TransformKind = "convert_body"
	// TransformConvertResponse re-encodes a successful response for the client
	TransformConvertResponse TransformKind = "convert_response"
)

// Stage returns the transform stage a rule belongs to. Request rules run in
// stage order: path, header, body, query.
func (k TransformKind) Stage() TransformStage {
	switch k {
	case TransformStripPrefix, TransformAddPrefix, TransformRewritePath:
		return StagePath
	case TransformSetHeader, TransformRemoveHeader:
		return StageHeader
	case TransformRenameField, TransformRemoveField, TransformSetField, TransformConvertBody:
		return StageBody
	case TransformSetQuery, TransformRemoveQuery:
		return StageQuery
	case TransformResponseHeader, TransformResponseRemove, TransformConvertResponse:
		return StageResponse
	default:
		return StageUnknown
	}
}

// TransformStage orders request rewriting
type TransformStage int

const (
	StageUnknown TransformStage = iota
	StagePath
	StageHeader
	StageBody
	StageQuery
	StageResponse
)

// Transformation is one declarative rewrite. Target is the prefix, header,
// field or parameter name the rule acts on; Value is its argument.
type Transformation struct {
	Type   TransformKind `json:"type"`
	Target string        `json:"target,omitempty"`
	Value  string        `json:"value,omitempty"`
}

// DefaultCacheTTL applies when a cache-enabled route declares no TTL
const DefaultCacheTTL = 300 * time.Second

// CachePolicy controls response caching for a route
type CachePolicy struct {
	Enabled     bool          `json:"enabled"`
	TTL         time.Duration `json:"ttl"`
	Tags        []string      `json:"tags,omitempty"`
	VaryHeaders []string      `json:"vary_headers,omitempty"`
}

// EffectiveTTL returns the configured TTL or the default
func (p CachePolicy) EffectiveTTL() time.Duration {
	if p.TTL <= 0 {
		return DefaultCacheTTL
	}
	return p.TTL
}

// RouteInfo is the immutable routing metadata for one method+pattern.
type RouteInfo struct {
	ID              string           `json:"id"`
	Method          string           `json:"method"`
	Pattern         string           `json:"pattern"`
	Service         string           `json:"service"`
	Public          bool             `json:"public"`
	RequiredScopes  []string         `json:"required_scopes,omitempty"`
	Strategy        Strategy         `json:"strategy"`
	Timeout         time.Duration    `json:"timeout"`
	Transformations []Transformation `json:"transformations,omitempty"`
	Middleware      []string         `json:"middleware,omitempty"`
	Cache           CachePolicy      `json:"cache"`

	// Params holds path parameters captured when the route was resolved
	Params map[string]string `json:"-"`
}

// Endpoint returns the label used for analytics aggregation
func (r RouteInfo) Endpoint() string {
	return r.Method + " " + r.Pattern
}

// IsMutating reports whether method changes downstream state
func IsMutating(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}
