package registry

import (
	"fmt"
	"strings"

	"gatewaycore/internal/balancer"
	"gatewaycore/internal/router"
	"gatewaycore/internal/types"
)

// Resolution is the outcome of routing one request
type Resolution struct {
	Rule     types.RouteRule
	Instance *types.ServiceInstance
}

// RegisterRoute adds or replaces the rule for pattern. The rule is
// validated here so bad configuration fails at registration rather than
// at request time.
func (r *Registry) RegisterRoute(pattern string, rule types.RouteRule) error {
	rule.Pattern = pattern
	if err := validateRule(&rule); err != nil {
		return err
	}

	r.mu.Lock()
	previous, existed := r.routes.Get(pattern)
	err := r.routes.Upsert(rule)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if existed && previous.RateLimit != rule.RateLimit {
		r.limiter.Forget(pattern)
	}

	r.logger.Info("added route rule",
		"pattern", pattern,
		"service", rule.ServiceName,
		"strategy", string(rule.Strategy),
	)
	return nil
}

func validateRule(rule *types.RouteRule) error {
	if err := router.ValidatePattern(rule.Pattern); err != nil {
		return err
	}
	if strings.TrimSpace(rule.ServiceName) == "" {
		return types.ValidationError{Field: "service", Message: "route " + rule.Pattern + " has no service"}
	}

	strategy, err := types.ParseStrategy(string(rule.Strategy))
	if err != nil {
		return err
	}
	rule.Strategy = strategy

	if _, _, err := router.ParseRateLimit(rule.RateLimit); err != nil {
		return err
	}
	if rule.CanaryPercentage < 0 || rule.CanaryPercentage > 100 {
		return types.ValidationError{Field: "canary_percentage", Message: fmt.Sprintf("%v is outside 0-100", rule.CanaryPercentage)}
	}
	if rule.Timeout < 0 {
		return types.ValidationError{Field: "timeout", Message: "must not be negative"}
	}
	if rule.RetryCount < 0 {
		return types.ValidationError{Field: "retry_count", Message: "must not be negative"}
	}
	return nil
}

// RemoveRoute deletes the rule for pattern
func (r *Registry) RemoveRoute(pattern string) bool {
	r.mu.Lock()
	removed := r.routes.Remove(pattern)
	r.mu.Unlock()

	if removed {
		r.limiter.Forget(pattern)
		r.logger.Info("removed route rule", "pattern", pattern)
	}
	return removed
}

// FindRoute returns the rule routing path
func (r *Registry) FindRoute(path string) (types.RouteRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.routes.Find(path)
}

// Routes returns every rule in registration order
func (r *Registry) Routes() []types.RouteRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.routes.List()
}

// SelectInstance picks an instance of service with the given strategy.
// Only healthy and degraded instances are eligible, and nothing is
// returned while the service's traffic breaker rejects calls.
func (r *Registry) SelectInstance(service string, strategy types.Strategy, clientIP string) (*types.ServiceInstance, error) {
	return r.selectInstance(service, strategy, clientIP, true)
}

func (r *Registry) selectInstance(service string, strategy types.Strategy, clientIP string, useBreaker bool) (*types.ServiceInstance, error) {
	if strategy == "" {
		strategy = types.StrategyRoundRobin
	}

	inst, err := r.pick(service, strategy, clientIP, useBreaker)
	r.metrics.RecordSelection(service, string(strategy), err == nil)
	if err != nil {
		r.logger.Debug("instance selection failed", "service", service, "error", err)
		return nil, err
	}
	return inst, nil
}

func (r *Registry) pick(service string, strategy types.Strategy, clientIP string, useBreaker bool) (*types.ServiceInstance, error) {
	e := r.entry(service)
	if e == nil {
		return nil, types.ProxyError{Op: "select", Service: service, Err: types.ErrUnknownService}
	}

	if useBreaker && !e.breaker.CanExecute() {
		return nil, types.ProxyError{
			Op:      "select",
			Service: service,
			Err:     fmt.Errorf("%w: %w", types.ErrNoHealthyInstance, types.ErrCircuitOpen),
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	lb, err := e.balancerLocked(strategy, r.lbOpts)
	if err != nil {
		return nil, types.ProxyError{Op: "select", Service: service, Err: err}
	}

	selected, err := lb.Select(balancer.Eligible(e.instances), clientIP)
	if err != nil {
		return nil, types.ProxyError{Op: "select", Service: service, Err: err}
	}
	return selected.Clone(), nil
}

// balancerLocked returns the balancer for strategy, creating it on demand
func (e *serviceEntry) balancerLocked(strategy types.Strategy, opts []balancer.Option) (balancer.Balancer, error) {
	if lb, ok := e.balancers[strategy]; ok {
		return lb, nil
	}
	lb, err := balancer.New(strategy, opts...)
	if err != nil {
		return nil, err
	}
	e.balancers[strategy] = lb
	return lb, nil
}

// Resolve routes path to a rule, applies the rule's rate limit and selects
// an instance with the rule's strategy. The traffic breaker is consulted
// only when the rule enables it.
func (r *Registry) Resolve(path, clientIP string) (Resolution, error) {
	rule, err := r.FindRoute(path)
	if err != nil {
		return Resolution{}, err
	}

	allowed, err := r.limiter.Allow(rule.Pattern, rule.RateLimit, clientIP)
	if err != nil {
		return Resolution{Rule: rule}, err
	}
	if !allowed {
		return Resolution{Rule: rule}, types.ProxyError{Op: "resolve", Service: rule.ServiceName, Err: types.ErrRateLimitExceeded}
	}

	inst, err := r.selectInstance(rule.ServiceName, rule.Strategy, clientIP, rule.CircuitBreakerEnabled)
	if err != nil {
		return Resolution{Rule: rule}, err
	}
	return Resolution{Rule: rule, Instance: inst}, nil
}

// Acquire marks a connection to the instance as active
func (r *Registry) Acquire(service, instanceID string) error {
	return r.adjustConnections(service, instanceID, 1)
}

// Release marks a connection to the instance as finished
func (r *Registry) Release(service, instanceID string) error {
	return r.adjustConnections(service, instanceID, -1)
}

func (r *Registry) adjustConnections(service, instanceID string, delta int64) error {
	e := r.entry(service)
	if e == nil {
		return types.ProxyError{Op: "connections", Service: service, Err: types.ErrUnknownService}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.findLocked(instanceID)
	if inst == nil {
		return types.ProxyError{Op: "connections", Service: service, Err: fmt.Errorf("%w: %s", types.ErrInstanceNotFound, instanceID)}
	}
	inst.ActiveConnections += delta
	if inst.ActiveConnections < 0 {
		inst.ActiveConnections = 0
	}
	return nil
}
