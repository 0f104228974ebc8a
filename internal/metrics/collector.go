package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const maxLatencySamples = 10000

// Collector keeps an in-process rollup of reported outcomes and samples
// host CPU and memory. It implements types.MetricsCollector.
type Collector struct {
	totalOutcomes atomic.Uint64
	totalFailures atomic.Uint64
	selections    atomic.Uint64
	unavailable   atomic.Uint64
	probes        atomic.Uint64
	transitions   atomic.Uint64

	latencies   []float64
	latenciesMu sync.RWMutex

	cpuPercent  atomic.Value // float64
	memoryUsage atomic.Value // float64

	startTime     time.Time
	lastResetTime time.Time
	resetMu       sync.RWMutex

	sampleInterval time.Duration
	startOnce      sync.Once
	stopOnce       sync.Once
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// NewCollector creates a collector; Start begins host sampling
func NewCollector() *Collector {
	now := time.Now()
	c := &Collector{
		latencies:      make([]float64, 0, 1024),
		startTime:      now,
		lastResetTime:  now,
		sampleInterval: 2 * time.Second,
		stopCh:         make(chan struct{}),
	}
	c.cpuPercent.Store(0.0)
	c.memoryUsage.Store(0.0)
	return c
}

// RecordSelection counts selections and unavailable results
func (c *Collector) RecordSelection(_, _ string, selected bool) {
	c.selections.Add(1)
	if !selected {
		c.unavailable.Add(1)
	}
}

// RecordOutcome records a proxied call outcome
func (c *Collector) RecordOutcome(_ string, success bool, duration time.Duration) {
	c.totalOutcomes.Add(1)
	if !success {
		c.totalFailures.Add(1)
	}

	c.latenciesMu.Lock()
	c.latencies = append(c.latencies, float64(duration)/float64(time.Millisecond))
	// Keep only the newest samples
	if len(c.latencies) > maxLatencySamples {
		c.latencies = append(c.latencies[:0], c.latencies[len(c.latencies)-maxLatencySamples:]...)
	}
	c.latenciesMu.Unlock()
}

// RecordBreakerState counts breaker transitions
func (c *Collector) RecordBreakerState(_, _, _ string) {
	c.transitions.Add(1)
}

// RecordProbe counts probes
func (c *Collector) RecordProbe(_, _ string, _ time.Duration) {
	c.probes.Add(1)
}

// Stats holds the current rollup
type Stats struct {
	TotalOutcomes      uint64        `json:"total_outcomes"`
	TotalFailures      uint64        `json:"total_failures"`
	OutcomesPerSec     float64       `json:"outcomes_per_second"`
	ErrorRate          float64       `json:"error_rate"`
	Selections         uint64        `json:"selections"`
	UnavailableResults uint64        `json:"unavailable_results"`
	Probes             uint64        `json:"probes"`
	BreakerTransitions uint64        `json:"breaker_transitions"`
	AvgLatencyMs       float64       `json:"avg_latency_ms"`
	P50LatencyMs       float64       `json:"p50_latency_ms"`
	P95LatencyMs       float64       `json:"p95_latency_ms"`
	P99LatencyMs       float64       `json:"p99_latency_ms"`
	CPUPercent         float64       `json:"cpu_percent"`
	MemoryUsageMB      float64       `json:"memory_usage_mb"`
	Uptime             time.Duration `json:"uptime"`
}

// GetStats returns the current rollup
func (c *Collector) GetStats() Stats {
	total := c.totalOutcomes.Load()
	failures := c.totalFailures.Load()

	c.resetMu.RLock()
	elapsed := time.Since(c.lastResetTime).Seconds()
	c.resetMu.RUnlock()
	if elapsed <= 0 {
		elapsed = 1
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failures) / float64(total) * 100
	}

	sorted := c.sortedLatencies()

	return Stats{
		TotalOutcomes:      total,
		TotalFailures:      failures,
		OutcomesPerSec:     float64(total) / elapsed,
		ErrorRate:          errorRate,
		Selections:         c.selections.Load(),
		UnavailableResults: c.unavailable.Load(),
		Probes:             c.probes.Load(),
		BreakerTransitions: c.transitions.Load(),
		AvgLatencyMs:       average(sorted),
		P50LatencyMs:       percentile(sorted, 50),
		P95LatencyMs:       percentile(sorted, 95),
		P99LatencyMs:       percentile(sorted, 99),
		CPUPercent:         c.cpuPercent.Load().(float64),
		MemoryUsageMB:      c.memoryUsage.Load().(float64),
		Uptime:             time.Since(c.startTime),
	}
}

func (c *Collector) sortedLatencies() []float64 {
	c.latenciesMu.RLock()
	sorted := make([]float64, len(c.latencies))
	copy(sorted, c.latencies)
	c.latenciesMu.RUnlock()

	sort.Float64s(sorted)
	return sorted
}

func average(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// percentile uses nearest rank on sorted samples
func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := len(sorted) * p / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// Start begins sampling host CPU and memory. Calling Start more than once
// has no effect.
func (c *Collector) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.sampleLoop()
	})
}

func (c *Collector) sampleLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sample()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) sample() {
	if percent, err := cpu.Percent(0, false); err == nil && len(percent) > 0 {
		c.cpuPercent.Store(percent[0])
	}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		c.memoryUsage.Store(float64(vmStat.Used) / 1024 / 1024)
	}
}

// Reset clears the outcome counters and latency samples
func (c *Collector) Reset() {
	c.totalOutcomes.Store(0)
	c.totalFailures.Store(0)
	c.latenciesMu.Lock()
	c.latencies = c.latencies[:0]
	c.latenciesMu.Unlock()
	c.resetMu.Lock()
	c.lastResetTime = time.Now()
	c.resetMu.Unlock()
}

// Stop stops host sampling
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}
