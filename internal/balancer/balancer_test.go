package balancer_test

import (
	"fmt"
	"math/rand/v2"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaycore/internal/balancer"
	"gatewaycore/internal/types"
)

// Helper functions
func createInstances(count int, baseWeight int) []*types.ServiceInstance {
	instances := make([]*types.ServiceInstance, count)
	for i := 0; i < count; i++ {
		instances[i] = &types.ServiceInstance{
			ID:      string(rune('A' + i)),
			BaseURL: fmt.Sprintf("http://instance%d:8080", i+1),
			Weight:  baseWeight,
			Status:  types.InstanceStatusHealthy,
		}
	}
	return instances
}

func ids(instances []*types.ServiceInstance) []string {
	out := make([]string, len(instances))
	for i, inst := range instances {
		out[i] = inst.ID
	}
	return out
}

func selectN(t *testing.T, lb balancer.Balancer, candidates []*types.ServiceInstance, n int) []string {
	t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		selected, err := lb.Select(candidates, "")
		require.NoError(t, err)
		out = append(out, selected.ID)
	}
	return out
}

func TestNew(t *testing.T) {
	for _, s := range types.Strategies {
		lb, err := balancer.New(s)
		assert.NoError(t, err, s)
		assert.NotNil(t, lb, s)
	}

	_, err := balancer.New("fastest")
	assert.ErrorIs(t, err, types.ErrInvalidStrategy)
}

func TestParseStrategy(t *testing.T) {
	s, err := balancer.ParseStrategy("Least_Connections")
	require.NoError(t, err)
	assert.Equal(t, types.StrategyLeastConnections, s)

	s, err = balancer.ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, types.StrategyRoundRobin, s)

	_, err = balancer.ParseStrategy("sticky")
	assert.ErrorIs(t, err, types.ErrInvalidStrategy)
}

func TestEmptyCandidates(t *testing.T) {
	for _, s := range types.Strategies {
		lb, err := balancer.New(s)
		require.NoError(t, err)

		selected, err := lb.Select(nil, "10.0.0.1")
		assert.Nil(t, selected, s)
		assert.ErrorIs(t, err, types.ErrNoHealthyInstance, s)
	}
}

func TestEligible(t *testing.T) {
	instances := createInstances(4, 1)
	instances[1].Status = types.InstanceStatusUnhealthy
	instances[2].Status = types.InstanceStatusDegraded
	instances[3].Status = types.InstanceStatusMaintenance

	assert.Equal(t, []string{"A", "C"}, ids(balancer.Eligible(instances)))
}

func TestRoundRobinBalancer(t *testing.T) {
	t.Run("Basic round robin", func(t *testing.T) {
		lb := balancer.NewRoundRobin()
		instances := createInstances(3, 1)

		assert.Equal(t, []string{"A", "B", "C", "A"}, selectN(t, lb, instances, 4))
	})

	t.Run("Candidate set shrinks", func(t *testing.T) {
		lb := balancer.NewRoundRobin()
		instances := createInstances(3, 1)

		selectN(t, lb, instances, 2)
		got := selectN(t, lb, instances[:2], 2)
		assert.Equal(t, []string{"A", "B"}, got)
	})

	t.Run("Concurrent selection", func(t *testing.T) {
		lb := balancer.NewRoundRobin()
		instances := createInstances(3, 1)

		var mu sync.Mutex
		counts := make(map[string]int)
		var wg sync.WaitGroup

		for g := 0; g < 10; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 300; i++ {
					selected, err := lb.Select(instances, "")
					if err != nil {
						continue
					}
					mu.Lock()
					counts[selected.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		// Every selection advances the cursor by exactly one
		for _, id := range []string{"A", "B", "C"} {
			assert.Equal(t, 1000, counts[id], id)
		}
	})
}

func TestLeastConnectionsBalancer(t *testing.T) {
	lb := balancer.NewLeastConnections()

	t.Run("Basic least connections", func(t *testing.T) {
		instances := createInstances(3, 1)
		instances[0].ActiveConnections = 3
		instances[1].ActiveConnections = 1
		instances[2].ActiveConnections = 2

		selected, err := lb.Select(instances, "")
		require.NoError(t, err)
		assert.Equal(t, "B", selected.ID)
	})

	t.Run("Ties broken by list order", func(t *testing.T) {
		instances := createInstances(3, 1)
		instances[0].ActiveConnections = 4
		instances[1].ActiveConnections = 2
		instances[2].ActiveConnections = 2

		for i := 0; i < 3; i++ {
			selected, err := lb.Select(instances, "")
			require.NoError(t, err)
			assert.Equal(t, "B", selected.ID)
		}
	})
}

func TestWeightedRoundRobinBalancer(t *testing.T) {
	t.Run("Counter weight argmin", func(t *testing.T) {
		lb := balancer.NewWeightedRoundRobin()
		instances := createInstances(2, 1)
		instances[0].Weight = 2

		assert.Equal(t, []string{"A", "B", "A"}, selectN(t, lb, instances, 3))
	})

	t.Run("Basic weighted distribution", func(t *testing.T) {
		lb := balancer.NewWeightedRoundRobin()
		instances := createInstances(3, 1)
		instances[0].Weight = 3
		instances[1].Weight = 1
		instances[2].Weight = 2

		counts := make(map[string]int)
		for _, id := range selectN(t, lb, instances, 600) {
			counts[id]++
		}

		assert.InDelta(t, 300, counts["A"], 1) // 50%
		assert.InDelta(t, 100, counts["B"], 1) // 16.7%
		assert.InDelta(t, 200, counts["C"], 1) // 33.3%
	})

	t.Run("Zero weight treated as one", func(t *testing.T) {
		lb := balancer.NewWeightedRoundRobin()
		instances := createInstances(2, 0)

		assert.Equal(t, []string{"A", "B", "A", "B"}, selectN(t, lb, instances, 4))
	})

	t.Run("Remove resets counter", func(t *testing.T) {
		lb := balancer.NewWeightedRoundRobin()
		instances := createInstances(2, 1)

		selectN(t, lb, instances, 4)
		lb.Remove("A")
		assert.Equal(t, []string{"A", "A", "A"}, selectN(t, lb, instances, 3))
	})
}

func TestRandomBalancer(t *testing.T) {
	t.Run("Deterministic with source", func(t *testing.T) {
		instances := createInstances(5, 1)
		a, err := balancer.New(types.StrategyRandom, balancer.WithSource(rand.NewPCG(1, 2)))
		require.NoError(t, err)
		b, err := balancer.New(types.StrategyRandom, balancer.WithSource(rand.NewPCG(1, 2)))
		require.NoError(t, err)

		assert.Equal(t, selectN(t, a, instances, 20), selectN(t, b, instances, 20))
	})

	t.Run("Roughly uniform", func(t *testing.T) {
		lb := balancer.NewRandom()
		instances := createInstances(4, 1)

		counts := make(map[string]int)
		for _, id := range selectN(t, lb, instances, 4000) {
			counts[id]++
		}
		for _, id := range []string{"A", "B", "C", "D"} {
			assert.InDelta(t, 1000, counts[id], 200, id)
		}
	})
}

func TestIPHashBalancer(t *testing.T) {
	instances := createInstances(4, 1)

	t.Run("Consistent for a client", func(t *testing.T) {
		lb := balancer.NewIPHash()
		first, err := lb.Select(instances, "192.168.1.100")
		require.NoError(t, err)

		for i := 0; i < 10; i++ {
			selected, err := lb.Select(instances, "192.168.1.100")
			require.NoError(t, err)
			assert.Equal(t, first.ID, selected.ID)
		}
	})

	t.Run("Spreads clients", func(t *testing.T) {
		lb := balancer.NewIPHash()
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			selected, err := lb.Select(instances, fmt.Sprintf("10.0.%d.%d", i/10, i))
			require.NoError(t, err)
			seen[selected.ID] = true
		}
		assert.Greater(t, len(seen), 1)
	})

	t.Run("Empty client IP falls back to random", func(t *testing.T) {
		lb, err := balancer.New(types.StrategyIPHash, balancer.WithSource(rand.NewPCG(7, 7)))
		require.NoError(t, err)

		selected, err := lb.Select(instances, "")
		require.NoError(t, err)
		assert.Contains(t, ids(instances), selected.ID)
	})
}

func TestNewInstance(t *testing.T) {
	inst, err := balancer.NewInstance("auth", "http://localhost:8001/", 2)
	require.NoError(t, err)
	assert.Equal(t, "auth-localhost:8001", inst.ID)
	assert.Equal(t, "http://localhost:8001", inst.BaseURL)
	assert.Equal(t, 2, inst.Weight)
	assert.Equal(t, types.InstanceStatusHealthy, inst.Status)

	for _, bad := range []string{"localhost:8001", "ftp://host", "http://", "://x"} {
		_, err := balancer.NewInstance("auth", bad, 1)
		assert.ErrorIs(t, err, types.ErrInvalidInstance, bad)
	}
}

func TestInstancesFromDefinition(t *testing.T) {
	def := &types.ServiceDefinition{
		Name:      "content",
		Endpoints: []string{"http://content-1:8010", "http://content-2:8010"},
		Weight:    1,
		Version:   "2.1.0",
		Metadata:  map[string]any{"zone": "a"},
	}

	instances, err := balancer.InstancesFromDefinition(def)
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, []string{"content-content-1:8010", "content-content-2:8010"}, ids(instances))
	assert.Equal(t, "2.1.0", instances[1].Version)

	instances[0].Metadata["zone"] = "b"
	assert.Equal(t, "a", def.Metadata["zone"])
}

func TestClientIP(t *testing.T) {
	t.Run("X-Forwarded-For support", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		assert.Equal(t, "203.0.113.7", balancer.ClientIP(req))
	})

	t.Run("X-Real-IP support", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Real-IP", "198.51.100.2")
		assert.Equal(t, "198.51.100.2", balancer.ClientIP(req))
	})

	t.Run("RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "192.0.2.1:4567"
		assert.Equal(t, "192.0.2.1", balancer.ClientIP(req))
	})
}

func BenchmarkSelect(b *testing.B) {
	candidates := createInstances(100, 1)
	for _, strategy := range []types.Strategy{
		types.StrategyRoundRobin,
		types.StrategyWeightedRoundRobin,
		types.StrategyLeastConnections,
		types.StrategyRandom,
		types.StrategyIPHash,
	} {
		b.Run(string(strategy), func(b *testing.B) {
			lb, err := balancer.New(strategy)
			require.NoError(b, err)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := lb.Select(candidates, fmt.Sprintf("192.168.1.%d", i%256)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
