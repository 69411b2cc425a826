package loadbalancer

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

// ewmaAlpha weights the newest latency sample
const ewmaAlpha = 0.3

// Instance is the live view of one service instance. Counters are updated
// atomically by the executor; health is flipped by the health monitor.
type Instance struct {
	ID      string
	Address string
	Weight  int

	healthy     atomic.Bool
	connections atomic.Int64
	ewmaNanos   atomic.Int64 // 0 until the first sample
	requests    atomic.Int64
	failures    atomic.Int64

	// smooth weighted round robin state, guarded by the pool
	currentWeight int64

	probeMu        sync.Mutex
	failStreak     int
	successStreak  int
	lastProbe      time.Time
	lastProbeError string
}

// NewInstance creates a healthy instance from its registration
func NewInstance(cfg gateway.ServiceInstance) *Instance {
	inst := &Instance{ID: cfg.ID, Address: cfg.Address, Weight: cfg.Weight}
	if inst.Weight <= 0 {
		inst.Weight = 1
	}
	inst.healthy.Store(true)
	return inst
}

// Healthy reports whether the instance is in the selectable pool
func (i *Instance) Healthy() bool {
	return i.healthy.Load()
}

// SetHealthy forces the health flag
func (i *Instance) SetHealthy(v bool) {
	i.healthy.Store(v)
}

// Connections returns the number of in-flight calls
func (i *Instance) Connections() int64 {
	return i.connections.Load()
}

// Acquire marks the start of a call
func (i *Instance) Acquire() {
	i.connections.Add(1)
}

// Release marks the end of a call and folds its latency into the rolling average
func (i *Instance) Release(latency time.Duration, success bool) {
	i.connections.Add(-1)
	i.requests.Add(1)
	if !success {
		i.failures.Add(1)
	}
	sample := int64(latency)
	if sample <= 0 {
		sample = 1
	}
	for {
		old := i.ewmaNanos.Load()
		next := sample
		if old != 0 {
			next = int64(ewmaAlpha*float64(sample) + (1-ewmaAlpha)*float64(old))
		}
		if i.ewmaNanos.CompareAndSwap(old, next) {
			return
		}
	}
}

// AvgResponseTime returns the rolling average latency, 0 when never sampled
func (i *Instance) AvgResponseTime() time.Duration {
	return time.Duration(i.ewmaNanos.Load())
}

// SuccessRate returns the success percentage, 100 before any call
func (i *Instance) SuccessRate() float64 {
	total := i.requests.Load()
	if total == 0 {
		return 100
	}
	return 100 * float64(total-i.failures.Load()) / float64(total)
}

// ObserveProbe records a health probe. The health flag flips only after
// failThreshold consecutive failures or recoverThreshold consecutive
// successes. It returns true when the flag changed.
func (i *Instance) ObserveProbe(ok bool, probeErr error, failThreshold, recoverThreshold int, at time.Time) bool {
	i.probeMu.Lock()
	defer i.probeMu.Unlock()

	i.lastProbe = at
	if ok {
		i.successStreak++
		i.failStreak = 0
		i.lastProbeError = ""
		if !i.Healthy() && i.successStreak >= recoverThreshold {
			i.healthy.Store(true)
			return true
		}
		return false
	}

	i.failStreak++
	i.successStreak = 0
	if probeErr != nil {
		i.lastProbeError = probeErr.Error()
	}
	if i.Healthy() && i.failStreak >= failThreshold {
		i.healthy.Store(false)
		return true
	}
	return false
}

// InstanceStats is a point-in-time view of an instance
type InstanceStats struct {
	ID              string        `json:"id"`
	Address         string        `json:"address"`
	Weight          int           `json:"weight"`
	Healthy         bool          `json:"healthy"`
	Connections     int64         `json:"connections"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	Requests        int64         `json:"requests"`
	Failures        int64         `json:"failures"`
	SuccessRate     float64       `json:"success_rate"`
	LastProbe       time.Time     `json:"last_probe,omitzero"`
	LastProbeError  string        `json:"last_probe_error,omitempty"`
}

// Stats returns a snapshot of the instance counters
func (i *Instance) Stats() InstanceStats {
	i.probeMu.Lock()
	lastProbe, lastErr := i.lastProbe, i.lastProbeError
	i.probeMu.Unlock()

	return InstanceStats{
		ID:              i.ID,
		Address:         i.Address,
		Weight:          i.Weight,
		Healthy:         i.Healthy(),
		Connections:     i.Connections(),
		AvgResponseTime: i.AvgResponseTime(),
		Requests:        i.requests.Load(),
		Failures:        i.failures.Load(),
		SuccessRate:     math.Round(i.SuccessRate()*100) / 100,
		LastProbe:       lastProbe,
		LastProbeError:  lastErr,
	}
}
