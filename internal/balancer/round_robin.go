package balancer

import (
	"sync/atomic"

	"gatewaycore/internal/types"
)

// roundRobin cycles through candidates with a shared cursor
type roundRobin struct {
	counter atomic.Uint64
}

// NewRoundRobin creates a round-robin balancer
func NewRoundRobin() Balancer {
	return &roundRobin{}
}

// Select returns candidates[cursor mod N] and advances the cursor
func (rr *roundRobin) Select(candidates []*types.ServiceInstance, _ string) (*types.ServiceInstance, error) {
	if len(candidates) == 0 {
		return nil, types.ErrNoHealthyInstance
	}

	count := rr.counter.Add(1)
	index := (count - 1) % uint64(len(candidates))
	return candidates[index], nil
}

// Remove is a no-op; the cursor is not tied to instances
func (rr *roundRobin) Remove(string) {}
