package circuit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gatewaycore/internal/circuit"
	"gatewaycore/internal/types"
)

type staticTargets []types.ProbeTarget

func (s staticTargets) ProbeTargets() []types.ProbeTarget { return s }

// recordingSink captures forwarded probe results
type recordingSink struct {
	mu      sync.Mutex
	results []types.HealthCheckResult
	states  []circuit.State
	panicOn string
}

func (s *recordingSink) ApplyProbeResult(result types.HealthCheckResult, liveness circuit.State) {
	if result.ServiceName == s.panicOn {
		panic("sink failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	s.states = append(s.states, liveness)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func testClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func newTestProber(targets staticTargets, opts circuit.ProberOptions) *circuit.Prober {
	if opts.Client == nil {
		opts.Client = testClient()
	}
	return circuit.NewProber(targets, opts)
}

func TestCheckService(t *testing.T) {
	t.Run("healthy with details", func(t *testing.T) {
		userAgent := make(chan string, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userAgent <- r.Header.Get("User-Agent")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok","db":"up"}`))
		}))
		defer srv.Close()

		p := newTestProber(nil, circuit.ProberOptions{UserAgent: "test-agent/1"})
		res := p.CheckService(context.Background(), types.ProbeTarget{Service: "auth", URL: srv.URL + "/health"})

		assert.Equal(t, types.HealthStatusHealthy, res.Status)
		assert.Equal(t, "auth", res.ServiceName)
		assert.Empty(t, res.ErrorMessage)
		assert.Equal(t, "up", res.Details["db"])
		assert.Equal(t, "test-agent/1", <-userAgent)
		assert.False(t, res.Timestamp.IsZero())
	})

	t.Run("non json body tolerated", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("OK"))
		}))
		defer srv.Close()

		p := newTestProber(nil, circuit.ProberOptions{})
		res := p.CheckService(context.Background(), types.ProbeTarget{Service: "news", URL: srv.URL})

		assert.Equal(t, types.HealthStatusHealthy, res.Status)
		assert.Empty(t, res.Details)
	})

	t.Run("http error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		p := newTestProber(nil, circuit.ProberOptions{})
		res := p.CheckService(context.Background(), types.ProbeTarget{Service: "auth", URL: srv.URL})

		assert.Equal(t, types.HealthStatusUnhealthy, res.Status)
		assert.Equal(t, "HTTP 503", res.ErrorMessage)
		var httpErr types.ProbeHTTPError
		require.True(t, errors.As(res.Err, &httpErr))
		assert.Equal(t, 503, httpErr.StatusCode)
	})

	t.Run("redirect not followed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
		}))
		defer srv.Close()

		p := circuit.NewProber(nil, circuit.ProberOptions{})
		res := p.CheckService(context.Background(), types.ProbeTarget{Service: "auth", URL: srv.URL})

		assert.Equal(t, "HTTP 302", res.ErrorMessage)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		cfg := circuit.DefaultConfig()
		cfg.ProbeTimeout = 50 * time.Millisecond
		p := newTestProber(nil, circuit.ProberOptions{Breaker: cfg})
		res := p.CheckService(context.Background(), types.ProbeTarget{Service: "visitors", URL: srv.URL})

		assert.Equal(t, types.HealthStatusUnhealthy, res.Status)
		assert.Equal(t, circuit.MessageTimeout, res.ErrorMessage)
		assert.ErrorIs(t, res.Err, types.ErrProbeTimeout)
	})

	t.Run("connection error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		p := newTestProber(nil, circuit.ProberOptions{})
		res := p.CheckService(context.Background(), types.ProbeTarget{Service: "auth", URL: url})

		assert.Equal(t, circuit.MessageConnectionError, res.ErrorMessage)
		assert.ErrorIs(t, res.Err, types.ErrProbeConnection)
	})
}

func TestProberBreakerSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	targets := staticTargets{{Service: "auth", URL: srv.URL}}
	p := newTestProber(targets, circuit.ProberOptions{})

	for i := 0; i < 5; i++ {
		p.RunCycle(context.Background())
	}
	require.EqualValues(t, 5, hits.Load())

	results := p.RunCycle(context.Background())
	assert.EqualValues(t, 5, hits.Load())

	res := results["auth"]
	assert.Equal(t, types.HealthStatusUnhealthy, res.Status)
	assert.Equal(t, circuit.MessageCircuitOpen, res.ErrorMessage)
	assert.Equal(t, "open", res.Details["circuit_state"])
	assert.ErrorIs(t, res.Err, types.ErrCircuitOpen)

	states := p.CircuitBreakerStates()
	require.Len(t, states, 1)
	assert.Equal(t, circuit.StateOpen, states[0].State)
	assert.Len(t, p.History("auth", 0), 6)
}

func TestProberCycleAndSummary(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	sink := &recordingSink{}
	targets := staticTargets{
		{Service: "auth", URL: healthy.URL},
		{Service: "news", URL: failing.URL},
		{Service: "auth", URL: failing.URL},
	}
	p := newTestProber(targets, circuit.ProberOptions{Sink: sink, Concurrency: 2})

	assert.Equal(t, types.HealthStatusUnknown, p.ServiceStatus("auth"))
	assert.True(t, p.Summary().LastCheck.IsZero())

	results := p.RunCycle(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, types.HealthStatusHealthy, results["auth"].Status)
	assert.Equal(t, types.HealthStatusUnhealthy, results["news"].Status)

	assert.Equal(t, 2, sink.count())
	assert.Equal(t, types.HealthStatusHealthy, p.ServiceStatus("auth"))
	assert.Equal(t, []string{"auth"}, p.HealthyServices())

	summary := p.Summary()
	assert.Equal(t, 2, summary.TotalServices)
	assert.Equal(t, 1, summary.HealthyServices)
	assert.Equal(t, 1, summary.UnhealthyServices)
	assert.InDelta(t, 50.0, summary.HealthPercentage, 0.001)
	assert.Contains(t, summary.AverageResponseTimes, "auth")
	assert.NotContains(t, summary.AverageResponseTimes, "news")
	assert.Len(t, summary.CircuitBreakers, 2)
	assert.False(t, summary.LastCheck.IsZero())
}

func TestProberPanicIsolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := &recordingSink{panicOn: "bad"}
	targets := staticTargets{
		{Service: "bad", URL: srv.URL},
		{Service: "good", URL: srv.URL},
	}
	p := newTestProber(targets, circuit.ProberOptions{Sink: sink})

	assert.NotPanics(t, func() {
		p.RunCycle(context.Background())
	})
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, types.HealthStatusHealthy, p.ServiceStatus("good"))
	assert.Equal(t, types.HealthStatusHealthy, p.ServiceStatus("bad"))
}

type panickingSource struct {
	calls atomic.Int32
}

func (s *panickingSource) ProbeTargets() []types.ProbeTarget {
	s.calls.Add(1)
	panic("registry unavailable")
}

func TestProberLoopSurvivesPanic(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := &panickingSource{}
	p := circuit.NewProber(src, circuit.ProberOptions{Interval: 10 * time.Millisecond, Client: testClient()})
	p.Start(context.Background())

	require.Eventually(t, func() bool {
		return src.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	p.Stop()
}

func TestProberStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	targets := staticTargets{{Service: "auth", URL: srv.URL}}
	p := newTestProber(targets, circuit.ProberOptions{Interval: time.Hour})

	p.Start(context.Background())
	p.Start(context.Background())

	// First cycle runs without waiting for the interval
	require.Eventually(t, func() bool {
		return len(p.History("auth", 0)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
}

func TestProberStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newTestProber(staticTargets{}, circuit.ProberOptions{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	p.Stop()
}

func TestProberStopWaitsForInFlightCycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	arrived := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	targets := staticTargets{{Service: "auth", URL: srv.URL}}
	p := newTestProber(targets, circuit.ProberOptions{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	<-arrived

	// Cancelling the loop context must not abort the in-flight probe
	cancel()

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight cycle finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	history := p.History("auth", 0)
	require.Len(t, history, 1)
	assert.Equal(t, types.HealthStatusHealthy, history[0].Status)
}

func TestMultiSink(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	sink := circuit.MultiSink(first, nil, second)

	result := types.HealthCheckResult{ServiceName: "auth", Status: types.HealthStatusHealthy}
	sink.ApplyProbeResult(result, circuit.StateClosed)

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
	assert.Equal(t, circuit.StateClosed, second.states[0])
}
