package ratelimit

import (
	"github.com/xpgateway/backend/internal/infrastructure/config"
)

// Subject describes the caller being admitted
type Subject struct {
	Anonymous bool
	Principal string
	IP        string
	Method    string
	Path      string
	Tier      string
}

// Policy turns the configured limits into per-request dimension checks
type Policy struct {
	Global      Limit
	User        Limit
	IP          Limit
	Endpoint    Limit
	DefaultTier string
	Tiers       map[string]Limit
}

// PolicyFromConfig builds a Policy from the rate_limit config section
func PolicyFromConfig(cfg config.RateLimitConfig) Policy {
	p := Policy{
		Global:      Limit(cfg.Global),
		User:        Limit(cfg.User),
		IP:          Limit(cfg.IP),
		Endpoint:    Limit(cfg.Endpoint),
		DefaultTier: cfg.DefaultTier,
		Tiers:       make(map[string]Limit, len(cfg.Tiers)),
	}
	for name, l := range cfg.Tiers {
		p.Tiers[name] = Limit(l)
	}
	return p
}

// Requests returns the checks for s. Anonymous callers are keyed by IP only,
// so the user and tier dimensions are skipped and the endpoint key uses the IP.
func (p Policy) Requests(s Subject) []Request {
	reqs := make([]Request, 0, 5)
	reqs = append(reqs,
		Request{Dimension: DimensionGlobal, Key: "all", Limit: p.Global},
		Request{Dimension: DimensionIP, Key: s.IP, Limit: p.IP},
	)

	principal := s.Principal
	if s.Anonymous || principal == "" {
		principal = s.IP
	}
	reqs = append(reqs, Request{
		Dimension: DimensionEndpoint,
		Key:       principal + ":" + s.Method + ":" + s.Path,
		Limit:     p.Endpoint,
	})

	if s.Anonymous || s.Principal == "" {
		return reqs
	}

	reqs = append(reqs, Request{Dimension: DimensionUser, Key: s.Principal, Limit: p.User})

	tier := s.Tier
	if tier == "" {
		tier = p.DefaultTier
	}
	if limit, ok := p.Tiers[tier]; ok {
		reqs = append(reqs, Request{Dimension: DimensionTier, Key: tier + ":" + s.Principal, Limit: limit})
	}
	return reqs
}
