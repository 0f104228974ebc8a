package balancer

import (
	"sync"

	"gatewaycore/internal/types"
)

// weightedRoundRobin keeps a selection counter per instance and picks the
// candidate with the lowest counter/weight ratio
type weightedRoundRobin struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewWeightedRoundRobin creates a weighted round-robin balancer. Over a run
// of L selections each instance converges to L*weight/sum(weights).
func NewWeightedRoundRobin() Balancer {
	return &weightedRoundRobin{
		counters: make(map[string]uint64),
	}
}

// Select picks argmin(counter/weight), ties going to the earlier candidate
func (wrr *weightedRoundRobin) Select(candidates []*types.ServiceInstance, _ string) (*types.ServiceInstance, error) {
	if len(candidates) == 0 {
		return nil, types.ErrNoHealthyInstance
	}

	wrr.mu.Lock()
	defer wrr.mu.Unlock()

	best := 0
	bestCount, bestWeight := wrr.counters[candidates[0].ID], weightOf(candidates[0])

	for i := 1; i < len(candidates); i++ {
		count, weight := wrr.counters[candidates[i].ID], weightOf(candidates[i])
		// count/weight < bestCount/bestWeight without division
		if count*bestWeight < bestCount*weight {
			best, bestCount, bestWeight = i, count, weight
		}
	}

	selected := candidates[best]
	wrr.counters[selected.ID]++
	return selected, nil
}

// Remove forgets the instance's counter
func (wrr *weightedRoundRobin) Remove(instanceID string) {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()
	delete(wrr.counters, instanceID)
}

func weightOf(inst *types.ServiceInstance) uint64 {
	if inst.Weight <= 0 {
		return 1 // Default weight
	}
	return uint64(inst.Weight)
}
