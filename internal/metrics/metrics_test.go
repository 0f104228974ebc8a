package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	r.RecordSelection("auth", "round_robin", true)
	r.RecordSelection("auth", "round_robin", false)
	r.RecordOutcome("auth", false, 20*time.Millisecond)
	r.RecordBreakerState("traffic", "auth", "open")
	r.RecordProbe("auth", "healthy", 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.selectionsTotal.WithLabelValues("auth", "round_robin", "selected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.selectionsTotal.WithLabelValues("auth", "round_robin", "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcomesTotal.WithLabelValues("auth", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.breakerState.WithLabelValues("traffic", "auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.probesTotal.WithLabelValues("auth", "healthy")))

	r.RecordBreakerState("traffic", "auth", "half_open")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.breakerState.WithLabelValues("traffic", "auth")))
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder()
	r.RecordProbe("news", "unhealthy", time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `gatewaycore_health_probes_total{service="news",status="unhealthy"} 1`))
}

func TestCollectorStats(t *testing.T) {
	c := NewCollector()

	for i := 1; i <= 10; i++ {
		c.RecordOutcome("auth", i%5 != 0, time.Duration(i)*time.Millisecond)
	}
	c.RecordSelection("auth", "random", false)
	c.RecordProbe("auth", "healthy", time.Millisecond)

	stats := c.GetStats()
	assert.EqualValues(t, 10, stats.TotalOutcomes)
	assert.EqualValues(t, 2, stats.TotalFailures)
	assert.InDelta(t, 20.0, stats.ErrorRate, 0.001)
	assert.InDelta(t, 5.5, stats.AvgLatencyMs, 0.001)
	assert.InDelta(t, 6.0, stats.P50LatencyMs, 0.001)
	assert.InDelta(t, 10.0, stats.P99LatencyMs, 0.001)
	assert.EqualValues(t, 1, stats.UnavailableResults)
	assert.EqualValues(t, 1, stats.Probes)

	c.Reset()
	stats = c.GetStats()
	assert.Zero(t, stats.TotalOutcomes)
	assert.Zero(t, stats.AvgLatencyMs)
}

func TestCollectorStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := NewCollector()
	c.sampleInterval = 10 * time.Millisecond
	c.Start()
	c.Start()
	time.Sleep(30 * time.Millisecond)
	c.Stop()
	c.Stop()
}

func TestTee(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	m := Tee(a, b, Nop())

	m.RecordOutcome("auth", true, time.Millisecond)
	m.RecordBreakerState("liveness", "auth", "open")

	for _, c := range []*Collector{a, b} {
		stats := c.GetStats()
		assert.EqualValues(t, 1, stats.TotalOutcomes)
		assert.EqualValues(t, 1, stats.BreakerTransitions)
	}
}
