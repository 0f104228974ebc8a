package circuit_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaycore/internal/circuit"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *fakeClock, opts ...circuit.Option) *circuit.Breaker {
	opts = append([]circuit.Option{circuit.WithClock(clock.Now)}, opts...)
	return circuit.NewBreaker("auth", circuit.DefaultConfig(), opts...)
}

func TestBreakerOpens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, circuit.StateClosed, b.State())
		assert.True(t, b.CanExecute())
	}

	b.RecordFailure()
	snap := b.GetState()
	assert.Equal(t, circuit.StateOpen, snap.State)
	assert.Equal(t, 5, snap.FailureCount)
	assert.Equal(t, clock.Now(), snap.LastFailureTime)

	assert.False(t, b.CanExecute())
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	assert.Equal(t, 0, b.GetState().FailureCount)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, circuit.StateClosed, b.State())
}

func TestBreakerRecovers(t *testing.T) {
	t.Run("half open closes after success threshold", func(t *testing.T) {
		clock := newFakeClock()
		b := newTestBreaker(clock)
		for i := 0; i < 5; i++ {
			b.RecordFailure()
		}

		clock.Advance(59 * time.Second)
		assert.False(t, b.CanExecute())

		clock.Advance(time.Second)
		assert.True(t, b.CanExecute())
		assert.Equal(t, circuit.StateHalfOpen, b.State())
		assert.Equal(t, 0, b.GetState().SuccessCount)

		b.RecordSuccess()
		b.RecordSuccess()
		assert.Equal(t, circuit.StateHalfOpen, b.State())
		assert.Equal(t, 2, b.GetState().SuccessCount)

		b.RecordSuccess()
		snap := b.GetState()
		assert.Equal(t, circuit.StateClosed, snap.State)
		assert.Equal(t, 0, snap.FailureCount)
		assert.Equal(t, 0, snap.SuccessCount)
	})

	t.Run("half open failure reopens", func(t *testing.T) {
		clock := newFakeClock()
		b := newTestBreaker(clock)
		for i := 0; i < 5; i++ {
			b.RecordFailure()
		}

		clock.Advance(time.Minute)
		require.True(t, b.CanExecute())

		b.RecordSuccess()
		b.RecordFailure()
		snap := b.GetState()
		assert.Equal(t, circuit.StateOpen, snap.State)
		assert.Equal(t, clock.Now(), snap.LastFailureTime)
		assert.False(t, b.CanExecute())
	})
}

func TestBreakerOpenBehavior(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}

	t.Run("success while open only resets failures", func(t *testing.T) {
		b.RecordSuccess()
		snap := b.GetState()
		assert.Equal(t, circuit.StateOpen, snap.State)
		assert.Equal(t, 0, snap.FailureCount)
	})

	t.Run("failure while open re-stamps", func(t *testing.T) {
		clock.Advance(30 * time.Second)
		b.RecordFailure()
		snap := b.GetState()
		assert.Equal(t, circuit.StateOpen, snap.State)
		assert.Equal(t, 1, snap.FailureCount)
		assert.Equal(t, clock.Now(), snap.LastFailureTime)

		clock.Advance(45 * time.Second)
		assert.False(t, b.CanExecute())
	})
}

func TestBreakerStateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := newTestBreaker(clock, circuit.WithStateChange(func(name string, from, to circuit.State) {
		transitions = append(transitions, name+":"+string(from)+"->"+string(to))
	}))

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.Advance(time.Minute)
	b.CanExecute()
	for i := 0; i < 3; i++ {
		b.RecordSuccess()
	}

	assert.Equal(t, []string{
		"auth:closed->open",
		"auth:open->half_open",
		"auth:half_open->closed",
	}, transitions)
}

func TestBreakerReset(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	b.Reset()

	snap := b.GetState()
	assert.Equal(t, circuit.StateClosed, snap.State)
	assert.Zero(t, snap.FailureCount)
	assert.True(t, snap.LastFailureTime.IsZero())
}

func TestBreakerConcurrentFailures(t *testing.T) {
	cfg := circuit.DefaultConfig()
	cfg.FailureThreshold = 1000
	b := circuit.NewBreaker("messages", cfg)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.RecordFailure()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, b.GetState().FailureCount)
	assert.Equal(t, circuit.StateClosed, b.State())
}

func TestDefaultConfigApplied(t *testing.T) {
	b := circuit.NewBreaker("x", circuit.Config{})
	assert.Equal(t, circuit.DefaultConfig(), b.Config())
}

func TestMultiCircuitBreaker(t *testing.T) {
	m := circuit.NewMultiCircuitBreaker(circuit.DefaultConfig())

	t.Run("lazy creation returns same breaker", func(t *testing.T) {
		_, ok := m.Lookup("auth")
		assert.False(t, ok)

		a := m.GetBreaker("auth")
		assert.Same(t, a, m.GetBreaker("auth"))

		found, ok := m.Lookup("auth")
		assert.True(t, ok)
		assert.Same(t, a, found)
	})

	t.Run("states sorted by name", func(t *testing.T) {
		m.GetBreaker("news")
		m.GetBreaker("admin")
		for i := 0; i < 5; i++ {
			m.GetBreaker("news").RecordFailure()
		}

		states := m.GetAllStates()
		require.Len(t, states, 3)
		assert.Equal(t, "admin", states[0].Name)
		assert.Equal(t, "auth", states[1].Name)
		assert.Equal(t, "news", states[2].Name)
		assert.Equal(t, circuit.StateOpen, states[2].State)
	})

	t.Run("reset all", func(t *testing.T) {
		m.ResetAll()
		for _, s := range m.GetAllStates() {
			assert.Equal(t, circuit.StateClosed, s.State)
		}
	})

	t.Run("remove", func(t *testing.T) {
		m.RemoveBreaker("admin")
		_, ok := m.Lookup("admin")
		assert.False(t, ok)
	})

	t.Run("concurrent get", func(t *testing.T) {
		var wg sync.WaitGroup
		got := make([]*circuit.Breaker, 20)
		for i := range got {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				got[i] = m.GetBreaker("visitors")
			}(i)
		}
		wg.Wait()
		for _, b := range got {
			assert.Same(t, got[0], b)
		}
	})
}
