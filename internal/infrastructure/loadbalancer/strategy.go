package loadbalancer

import (
	"github.com/zeebo/xxh3"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

// selector picks one instance from a non-empty healthy slice
type selector func(p *Pool, healthy []*Instance, clientIP string) *Instance

var selectors = map[gateway.Strategy]selector{
	gateway.StrategyRoundRobin:               roundRobin,
	gateway.StrategyWeightedRoundRobin:       weightedRoundRobin,
	gateway.StrategyLeastConnections:         leastConnections,
	gateway.StrategyLeastResponseTime:        leastResponseTime,
	gateway.StrategyIPHash:                   ipHash,
	gateway.StrategyWeightedLeastConnections: weightedLeastConnections,
	gateway.StrategyAdaptive:                 adaptive,
}

func roundRobin(p *Pool, healthy []*Instance, _ string) *Instance {
	n := p.rr.Add(1) - 1
	return healthy[n%uint64(len(healthy))]
}

// weightedRoundRobin is the smooth weighted round robin used by nginx: every
// instance gains its weight, the leader is picked and pays back the total.
// Selection counts match weight shares exactly over each full cycle.
func weightedRoundRobin(p *Pool, healthy []*Instance, _ string) *Instance {
	p.wrrMu.Lock()
	defer p.wrrMu.Unlock()

	var total int64
	var best *Instance
	for _, inst := range healthy {
		inst.currentWeight += int64(inst.Weight)
		total += int64(inst.Weight)
		if best == nil || inst.currentWeight > best.currentWeight {
			best = inst
		}
	}
	best.currentWeight -= total
	return best
}

func leastConnections(_ *Pool, healthy []*Instance, _ string) *Instance {
	best := healthy[0]
	for _, inst := range healthy[1:] {
		if inst.Connections() < best.Connections() {
			best = inst
		}
	}
	return best
}

// leastResponseTime prefers instances that have never been sampled so every
// instance gets measured, then the lowest rolling average.
func leastResponseTime(_ *Pool, healthy []*Instance, _ string) *Instance {
	var best *Instance
	for _, inst := range healthy {
		rt := inst.AvgResponseTime()
		if rt == 0 {
			return inst
		}
		if best == nil || rt < best.AvgResponseTime() {
			best = inst
		}
	}
	return best
}

// ipHash uses rendezvous hashing so that removing an instance only remaps
// the clients that were pinned to it.
func ipHash(_ *Pool, healthy []*Instance, clientIP string) *Instance {
	var best *Instance
	var bestScore uint64
	for _, inst := range healthy {
		score := xxh3.HashString(clientIP + "|" + inst.ID)
		if best == nil || score > bestScore {
			best, bestScore = inst, score
		}
	}
	return best
}

func weightedLeastConnections(_ *Pool, healthy []*Instance, _ string) *Instance {
	best := healthy[0]
	bestScore := float64(best.Connections()) / float64(best.Weight)
	for _, inst := range healthy[1:] {
		score := float64(inst.Connections()) / float64(inst.Weight)
		if score < bestScore {
			best, bestScore = inst, score
		}
	}
	return best
}

// adaptive blends latency, load and error rate; lower is better.
func adaptive(_ *Pool, healthy []*Instance, _ string) *Instance {
	best := healthy[0]
	bestScore := adaptiveScore(best)
	for _, inst := range healthy[1:] {
		if score := adaptiveScore(inst); score < bestScore {
			best, bestScore = inst, score
		}
	}
	return best
}

func adaptiveScore(inst *Instance) float64 {
	rtMillis := float64(inst.AvgResponseTime().Microseconds()) / 1000
	score := rtMillis*0.4 + float64(inst.Connections())*0.3 + (100-inst.SuccessRate())*0.3
	return score / float64(inst.Weight)
}
