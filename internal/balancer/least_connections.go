package balancer

import (
	"gatewaycore/internal/types"
)

// leastConnections picks the candidate with the fewest active connections
type leastConnections struct{}

// NewLeastConnections creates a least-connections balancer
func NewLeastConnections() Balancer {
	return leastConnections{}
}

// Select returns the first candidate with the minimum active connections
func (leastConnections) Select(candidates []*types.ServiceInstance, _ string) (*types.ServiceInstance, error) {
	if len(candidates) == 0 {
		return nil, types.ErrNoHealthyInstance
	}

	selected := candidates[0]
	for _, inst := range candidates[1:] {
		if inst.ActiveConnections < selected.ActiveConnections {
			selected = inst
		}
	}
	return selected, nil
}

func (leastConnections) Remove(string) {}
