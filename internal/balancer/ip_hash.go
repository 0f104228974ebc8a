package balancer

import (
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"

	"gatewaycore/internal/types"
)

// ipHash maps a client address onto the candidate list. Affinity holds
// only while the candidate set is unchanged; adding or removing an
// instance may move clients.
type ipHash struct {
	fallback *picker
}

// NewIPHash creates an IP hash balancer
func NewIPHash() Balancer {
	return newIPHash(nil)
}

func newIPHash(src rand.Source) Balancer {
	return &ipHash{fallback: newPicker(src)}
}

// Select returns candidates[hash(clientIP) mod N]. Without a client
// address the choice is random.
func (ih *ipHash) Select(candidates []*types.ServiceInstance, clientIP string) (*types.ServiceInstance, error) {
	if len(candidates) == 0 {
		return nil, types.ErrNoHealthyInstance
	}
	if clientIP == "" {
		return candidates[ih.fallback.intN(len(candidates))], nil
	}

	index := xxhash.Sum64String(clientIP) % uint64(len(candidates))
	return candidates[index], nil
}

func (ih *ipHash) Remove(string) {}
