package balancer

import (
	"math/rand/v2"
	"sync"

	"gatewaycore/internal/types"
)

type options struct {
	source rand.Source
}

// Option configures a balancer
type Option func(*options)

// WithSource makes random choices deterministic for tests
func WithSource(src rand.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// picker returns a uniform index in [0, n)
type picker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newPicker(src rand.Source) *picker {
	if src == nil {
		return &picker{}
	}
	return &picker{rng: rand.New(src)}
}

func (p *picker) intN(n int) int {
	if p.rng == nil {
		return rand.IntN(n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}

// randomBalancer picks a uniformly random candidate
type randomBalancer struct {
	pick *picker
}

// NewRandom creates a random balancer
func NewRandom() Balancer {
	return newRandom(nil)
}

func newRandom(src rand.Source) Balancer {
	return &randomBalancer{pick: newPicker(src)}
}

func (r *randomBalancer) Select(candidates []*types.ServiceInstance, _ string) (*types.ServiceInstance, error) {
	if len(candidates) == 0 {
		return nil, types.ErrNoHealthyInstance
	}
	return candidates[r.pick.intN(len(candidates))], nil
}

func (r *randomBalancer) Remove(string) {}
