package analytics

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

// EndpointStats is a point-in-time view of one endpoint's live counters
type EndpointStats struct {
	Endpoint     string        `json:"endpoint"`
	Requests     int64         `json:"requests"`
	Errors       int64         `json:"errors"`
	CacheHits    int64         `json:"cache_hits"`
	TotalLatency time.Duration `json:"total_latency"`
	MinLatency   time.Duration `json:"min_latency"`
	MaxLatency   time.Duration `json:"max_latency"`
	AvgLatency   time.Duration `json:"avg_latency"`
	ErrorRate    float64       `json:"error_rate"`
	LastSeen     time.Time     `json:"last_seen"`
}

type endpointCounter struct {
	mu    sync.Mutex
	stats EndpointStats
}

func (c *endpointCounter) add(rec gateway.AnalyticsRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.stats
	s.Requests++
	if rec.IsError() {
		s.Errors++
	}
	if rec.CacheHit {
		s.CacheHits++
	}
	s.TotalLatency += rec.ResponseTime
	if s.Requests == 1 || rec.ResponseTime < s.MinLatency {
		s.MinLatency = rec.ResponseTime
	}
	if rec.ResponseTime > s.MaxLatency {
		s.MaxLatency = rec.ResponseTime
	}
	if rec.Timestamp.After(s.LastSeen) {
		s.LastSeen = rec.Timestamp
	}
}

func (c *endpointCounter) snapshot() EndpointStats {
	c.mu.Lock()
	s := c.stats
	c.mu.Unlock()
	if s.Requests > 0 {
		s.AvgLatency = s.TotalLatency / time.Duration(s.Requests)
		s.ErrorRate = float64(s.Errors) / float64(s.Requests)
	}
	return s
}

// Aggregates keeps per-endpoint counters since process start
type Aggregates struct {
	endpoints *xsync.Map[string, *endpointCounter]
}

// NewAggregates creates an empty aggregate set
func NewAggregates() *Aggregates {
	return &Aggregates{endpoints: xsync.NewMap[string, *endpointCounter]()}
}

// Observe folds one record into its endpoint's counters
func (a *Aggregates) Observe(rec gateway.AnalyticsRecord) {
	key := rec.Endpoint
	if key == "" {
		key = rec.Method + " " + rec.Path
	}
	counter, _ := a.endpoints.LoadOrCompute(key, func() (*endpointCounter, bool) {
		return &endpointCounter{stats: EndpointStats{Endpoint: key}}, false
	})
	counter.add(rec)
}

// Snapshot returns every endpoint sorted by request count, busiest first
func (a *Aggregates) Snapshot() []EndpointStats {
	out := make([]EndpointStats, 0, a.endpoints.Size())
	a.endpoints.Range(func(_ string, c *endpointCounter) bool {
		out = append(out, c.snapshot())
		return true
	})
	slices.SortFunc(out, func(x, y EndpointStats) int {
		if x.Requests != y.Requests {
			if x.Requests > y.Requests {
				return -1
			}
			return 1
		}
		return strings.Compare(x.Endpoint, y.Endpoint)
	})
	return out
}

// Endpoint returns the counters of a single endpoint
func (a *Aggregates) Endpoint(endpoint string) (EndpointStats, bool) {
	c, ok := a.endpoints.Load(endpoint)
	if !ok {
		return EndpointStats{}, false
	}
	return c.snapshot(), true
}

// Reset drops every counter
func (a *Aggregates) Reset() {
	a.endpoints.Clear()
}
