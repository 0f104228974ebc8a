package circuit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gatewaycore/internal/logging"
	"gatewaycore/internal/metrics"
	"gatewaycore/internal/types"
	"gatewaycore/internal/version"
)

const (
	// DefaultProbeInterval is the time between probe cycles
	DefaultProbeInterval = 30 * time.Second

	// DefaultProbeConcurrency bounds parallel probes in one cycle
	DefaultProbeConcurrency = 4

	maxProbeBody = 64 << 10
)

// Probe failure messages
const (
	MessageCircuitOpen     = "circuit breaker open"
	MessageTimeout         = "timeout"
	MessageConnectionError = "connection error"
)

// TargetSource supplies the services to probe each cycle
type TargetSource interface {
	ProbeTargets() []types.ProbeTarget
}

// ProbeSink receives every probe result with the liveness breaker state
// observed after it was recorded
type ProbeSink interface {
	ApplyProbeResult(result types.HealthCheckResult, liveness State)
}

type multiSink []ProbeSink

// MultiSink forwards every result to each non-nil sink in order
func MultiSink(sinks ...ProbeSink) ProbeSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) ApplyProbeResult(result types.HealthCheckResult, liveness State) {
	for _, s := range m {
		s.ApplyProbeResult(result, liveness)
	}
}

// ProberOptions configures a Prober
type ProberOptions struct {
	Interval    time.Duration
	Breaker     Config
	HistorySize int
	Concurrency int
	UserAgent   string
	Client      *http.Client
	Sink        ProbeSink
	Logger      types.Logger
	Metrics     types.MetricsCollector
	Clock       func() time.Time
}

// Prober periodically checks the liveness endpoint of every service
// through a per-service liveness breaker and keeps a bounded history
type Prober struct {
	source      TargetSource
	interval    time.Duration
	timeout     time.Duration
	concurrency int
	userAgent   string
	client      *http.Client
	sink        ProbeSink
	logger      types.Logger
	metrics     types.MetricsCollector
	now         func() time.Time

	breakers *MultiCircuitBreaker
	history  *History

	mu        sync.RWMutex
	lastCheck time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewProber creates a prober; call Start to begin the probe loop
func NewProber(source TargetSource, opts ProberOptions) *Prober {
	if opts.Interval <= 0 {
		opts.Interval = DefaultProbeInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultProbeConcurrency
	}
	if opts.UserAgent == "" {
		opts.UserAgent = version.UserAgent("health-prober")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse // Don't follow redirects
			},
		}
	}

	cfg := opts.Breaker.normalize()
	logger := opts.Logger.With("component", "prober")
	recorder := opts.Metrics

	p := &Prober{
		source:      source,
		interval:    opts.Interval,
		timeout:     cfg.ProbeTimeout,
		concurrency: opts.Concurrency,
		userAgent:   opts.UserAgent,
		client:      opts.Client,
		sink:        opts.Sink,
		logger:      logger,
		metrics:     recorder,
		now:         opts.Clock,
		history:     NewHistory(opts.HistorySize),
		stopCh:      make(chan struct{}),
	}
	p.breakers = NewMultiCircuitBreaker(cfg,
		WithClock(opts.Clock),
		WithLogger(logger),
		WithStateChange(func(name string, _, to State) {
			recorder.RecordBreakerState("liveness", name, string(to))
		}),
	)
	return p
}

// Start runs the first cycle immediately and then one per interval until
// Stop is called or ctx is done. Calling Start more than once has no effect.
func (p *Prober) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.loop(ctx)
	})
}

// Stop signals the loop and waits for the in-flight cycle to finish
func (p *Prober) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("health prober started", "interval", p.interval.String())
	defer p.logger.Info("health prober stopped")

	// In-flight probes are bounded by their own timeout, not by shutdown
	probeCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		p.safeCycle(probeCtx)

		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Prober) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("probe cycle panicked", "panic", fmt.Sprint(r))
		}
	}()
	p.RunCycle(ctx)
}

// RunCycle probes every target once, concurrently up to the configured
// limit, and waits for all probes to finish
func (p *Prober) RunCycle(ctx context.Context) map[string]types.HealthCheckResult {
	targets := p.targets()
	results := make(map[string]types.HealthCheckResult, len(targets))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for _, target := range targets {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("service probe panicked",
						"service", target.Service,
						"panic", fmt.Sprint(r),
					)
				}
			}()

			result := p.CheckService(ctx, target)
			mu.Lock()
			results[target.Service] = result
			mu.Unlock()
			p.record(result)
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	p.lastCheck = p.now()
	p.mu.Unlock()

	return results
}

// record stores the result and forwards it to the sink
func (p *Prober) record(result types.HealthCheckResult) {
	p.history.Append(result)
	p.metrics.RecordProbe(result.ServiceName, string(result.Status), result.ResponseTime)

	if p.sink != nil {
		state := p.breakers.GetBreaker(result.ServiceName).State()
		p.sink.ApplyProbeResult(result, state)
	}
}

// CheckService probes one target through its liveness breaker. The result
// is returned but not recorded in history.
func (p *Prober) CheckService(ctx context.Context, target types.ProbeTarget) types.HealthCheckResult {
	breaker := p.breakers.GetBreaker(target.Service)

	if !breaker.CanExecute() {
		return types.HealthCheckResult{
			ServiceName:  target.Service,
			Status:       types.HealthStatusUnhealthy,
			Timestamp:    p.now(),
			ErrorMessage: MessageCircuitOpen,
			Details:      map[string]any{"circuit_state": string(StateOpen)},
			Err:          types.ErrCircuitOpen,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	details, err := p.probe(ctx, target.URL)
	elapsed := p.now().Sub(start)

	result := types.HealthCheckResult{
		ServiceName:  target.Service,
		ResponseTime: elapsed,
		Timestamp:    p.now(),
	}

	if err != nil {
		breaker.RecordFailure()
		result.Status = types.HealthStatusUnhealthy
		result.Err = err
		result.ErrorMessage = probeMessage(err)
		p.logger.Warn("health probe failed",
			"service", target.Service,
			"url", target.URL,
			"error", err,
		)
		return result
	}

	breaker.RecordSuccess()
	result.Status = types.HealthStatusHealthy
	result.Details = details
	p.logger.Debug("health probe passed",
		"service", target.Service,
		"url", target.URL,
		"duration", elapsed.String(),
	)
	return result
}

// probe issues the liveness request and classifies failures
func (p *Prober) probe(ctx context.Context, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProbeConnection, err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", types.ErrProbeTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrProbeConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.ProbeHTTPError{StatusCode: resp.StatusCode}
	}

	// Body details are best effort
	details := map[string]any{}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &details); err != nil {
			details = map[string]any{}
		}
	}
	return details, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func probeMessage(err error) string {
	var httpErr types.ProbeHTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Error()
	case errors.Is(err, types.ErrProbeTimeout):
		return MessageTimeout
	case errors.Is(err, types.ErrProbeConnection):
		return MessageConnectionError
	default:
		return err.Error()
	}
}

// targets deduplicates the source's targets by service name
func (p *Prober) targets() []types.ProbeTarget {
	raw := p.source.ProbeTargets()
	seen := make(map[string]struct{}, len(raw))
	targets := make([]types.ProbeTarget, 0, len(raw))
	for _, t := range raw {
		if _, ok := seen[t.Service]; ok {
			continue
		}
		seen[t.Service] = struct{}{}
		targets = append(targets, t)
	}
	return targets
}

// ServiceStatus returns the latest probe status, or unknown without history
func (p *Prober) ServiceStatus(service string) types.HealthStatus {
	latest, ok := p.history.Latest(service)
	if !ok {
		return types.HealthStatusUnknown
	}
	return latest.Status
}

// IsHealthy reports whether the latest probe of service succeeded
func (p *Prober) IsHealthy(service string) bool {
	return p.ServiceStatus(service) == types.HealthStatusHealthy
}

// HealthyServices returns the names of services whose latest probe succeeded
func (p *Prober) HealthyServices() []string {
	var healthy []string
	for _, t := range p.targets() {
		if p.IsHealthy(t.Service) {
			healthy = append(healthy, t.Service)
		}
	}
	sort.Strings(healthy)
	return healthy
}

// History returns up to limit recent results for service, oldest first
func (p *Prober) History(service string, limit int) []types.HealthCheckResult {
	return p.history.Recent(service, limit)
}

// CircuitBreakerStates returns the liveness breaker snapshots
func (p *Prober) CircuitBreakerStates() []Snapshot {
	return p.breakers.GetAllStates()
}

// Breakers exposes the liveness breaker set
func (p *Prober) Breakers() *MultiCircuitBreaker {
	return p.breakers
}

// Summary is the aggregated health of all probed services
type Summary struct {
	TotalServices        int                `json:"total_services"`
	HealthyServices      int                `json:"healthy_services"`
	UnhealthyServices    int                `json:"unhealthy_services"`
	HealthPercentage     float64            `json:"health_percentage"`
	AverageResponseTimes map[string]float64 `json:"average_response_times"`
	AverageResponseTime  float64            `json:"average_response_time"`
	CircuitBreakers      []Snapshot         `json:"circuit_breakers"`
	LastCheck            time.Time          `json:"last_check"`
}

// Summary aggregates the latest status of every target. Response times
// are in milliseconds.
func (p *Prober) Summary() Summary {
	targets := p.targets()
	summary := Summary{
		TotalServices:        len(targets),
		AverageResponseTimes: make(map[string]float64),
		CircuitBreakers:      p.breakers.GetAllStates(),
	}

	var total float64
	for _, t := range targets {
		if p.IsHealthy(t.Service) {
			summary.HealthyServices++
		}
		if avg, ok := p.history.AverageResponseTime(t.Service); ok {
			ms := float64(avg) / float64(time.Millisecond)
			summary.AverageResponseTimes[t.Service] = ms
			total += ms
		}
	}

	summary.UnhealthyServices = summary.TotalServices - summary.HealthyServices
	if summary.TotalServices > 0 {
		summary.HealthPercentage = float64(summary.HealthyServices) / float64(summary.TotalServices) * 100
	}
	if n := len(summary.AverageResponseTimes); n > 0 {
		summary.AverageResponseTime = total / float64(n)
	}

	p.mu.RLock()
	summary.LastCheck = p.lastCheck
	p.mu.RUnlock()

	return summary
}
