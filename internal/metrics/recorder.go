// Package metrics exports traffic-core metrics to Prometheus and keeps an
// in-process rollup for the operational API
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatewaycore/internal/types"
)

// Recorder implements types.MetricsCollector with Prometheus vectors
type Recorder struct {
	registry *prometheus.Registry

	selectionsTotal *prometheus.CounterVec
	outcomesTotal   *prometheus.CounterVec
	outcomeLatency  *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	breakerChanges  *prometheus.CounterVec
	probesTotal     *prometheus.CounterVec
	probeLatency    *prometheus.HistogramVec
}

// NewRecorder registers the gatewaycore metrics on a fresh registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		selectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewaycore_selections_total",
				Help: "Instance selections by service, strategy and result",
			},
			[]string{"service", "strategy", "result"},
		),

		outcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewaycore_outcomes_total",
				Help: "Proxied call outcomes reported by the proxy layer",
			},
			[]string{"service", "status"},
		),

		outcomeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatewaycore_outcome_latency_seconds",
				Help:    "Proxied call latency reported by the proxy layer",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),

		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatewaycore_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"breaker", "service"},
		),

		breakerChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewaycore_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions by target state",
			},
			[]string{"breaker", "service", "state"},
		),

		probesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatewaycore_health_probes_total",
				Help: "Health probes by service and status",
			},
			[]string{"service", "status"},
		),

		probeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatewaycore_health_probe_duration_seconds",
				Help:    "Health probe duration",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service"},
		),
	}
}

// RecordSelection records the outcome of an instance selection
func (r *Recorder) RecordSelection(service, strategy string, selected bool) {
	result := "selected"
	if !selected {
		result = "unavailable"
	}
	r.selectionsTotal.WithLabelValues(service, strategy, result).Inc()
}

// RecordOutcome records a proxied call outcome
func (r *Recorder) RecordOutcome(service string, success bool, duration time.Duration) {
	r.outcomesTotal.WithLabelValues(service, outcomeStatus(success)).Inc()
	r.outcomeLatency.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordBreakerState records a circuit breaker transition
func (r *Recorder) RecordBreakerState(breaker, service, state string) {
	r.breakerState.WithLabelValues(breaker, service).Set(stateValue(state))
	r.breakerChanges.WithLabelValues(breaker, service, state).Inc()
}

// RecordProbe records a health probe result
func (r *Recorder) RecordProbe(service, status string, duration time.Duration) {
	r.probesTotal.WithLabelValues(service, status).Inc()
	r.probeLatency.WithLabelValues(service).Observe(duration.Seconds())
}

// Registry returns the underlying Prometheus registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns the Prometheus scrape handler
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func outcomeStatus(success bool) string {
	return strconv.FormatBool(success)
}

func stateValue(state string) float64 {
	switch state {
	case "open":
		return 2
	case "half_open":
		return 1
	default:
		return 0
	}
}

// Nop returns a collector that records nothing
func Nop() types.MetricsCollector {
	return nopCollector{}
}

type nopCollector struct{}

func (nopCollector) RecordSelection(string, string, bool) {}
func (nopCollector) RecordOutcome(string, bool, time.Duration) {}
func (nopCollector) RecordBreakerState(string, string, string) {}
func (nopCollector) RecordProbe(string, string, time.Duration) {}

// Tee fans every record out to all collectors
func Tee(cs ...types.MetricsCollector) types.MetricsCollector {
	return tee(cs)
}

type tee []types.MetricsCollector

func (t tee) RecordSelection(service, strategy string, selected bool) {
	for _, c := range t {
		c.RecordSelection(service, strategy, selected)
	}
}

func (t tee) RecordOutcome(service string, success bool, duration time.Duration) {
	for _, c := range t {
		c.RecordOutcome(service, success, duration)
	}
}

func (t tee) RecordBreakerState(breaker, service, state string) {
	for _, c := range t {
		c.RecordBreakerState(breaker, service, state)
	}
}

func (t tee) RecordProbe(service, status string, duration time.Duration) {
	for _, c := range t {
		c.RecordProbe(service, status, duration)
	}
}
