// Package registry owns service instances and route rules and answers
// which instance should serve a request
package registry

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatewaycore/internal/balancer"
	"gatewaycore/internal/circuit"
	"gatewaycore/internal/logging"
	"gatewaycore/internal/metrics"
	"gatewaycore/internal/router"
	"gatewaycore/internal/types"
)

// DefaultHealthPath is appended to an instance base URL when a service has
// no explicit health URL
const DefaultHealthPath = "/health"

// Options configures a Registry
type Options struct {
	Breaker    circuit.Config
	HealthPath string
	Logger     types.Logger
	Metrics    types.MetricsCollector
	Clock      func() time.Time

	// BalancerOptions are passed to every balancer the registry creates
	BalancerOptions []balancer.Option

	// RateLimit configures the per-route limiter
	RateLimit router.LimiterOptions
}

// Registry maps service names to instances and paths to route rules.
//
// The structural lock guards the service map and the route table only.
// Each service carries its own lock for instances, balancers and outcome
// history so traffic on one service never waits on another.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*serviceEntry
	routes   *router.Table

	breakers   *circuit.MultiCircuitBreaker
	limiter    *router.Limiter
	healthPath string
	lbOpts     []balancer.Option
	logger     types.Logger
	metrics    types.MetricsCollector
	now        func() time.Time

	closeOnce sync.Once
}

// serviceEntry holds the mutable state of one service
type serviceEntry struct {
	name    string
	breaker *circuit.Breaker

	mu        sync.Mutex
	healthURL string
	instances []*types.ServiceInstance
	balancers map[types.Strategy]balancer.Balancer
	outcomes  map[string]*outcomeRing
}

// New creates an empty registry. Close releases its background resources.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.HealthPath == "" {
		opts.HealthPath = DefaultHealthPath
	}
	if opts.RateLimit.Now == nil {
		opts.RateLimit.Now = opts.Clock
	}

	logger := opts.Logger.With("component", "registry")
	recorder := opts.Metrics

	r := &Registry{
		services:   make(map[string]*serviceEntry),
		routes:     router.NewTable(),
		limiter:    router.NewLimiter(opts.RateLimit),
		healthPath: "/" + strings.TrimLeft(opts.HealthPath, "/"),
		lbOpts:     opts.BalancerOptions,
		logger:     logger,
		metrics:    recorder,
		now:        opts.Clock,
	}
	r.breakers = circuit.NewMultiCircuitBreaker(opts.Breaker,
		circuit.WithClock(opts.Clock),
		circuit.WithLogger(logger),
		circuit.WithStateChange(func(name string, _, to circuit.State) {
			recorder.RecordBreakerState("traffic", name, string(to))
		}),
	)
	return r
}

// Close stops the route limiter janitor
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.limiter.Stop()
	})
	return nil
}

// entry returns the service entry or nil
func (r *Registry) entry(service string) *serviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[service]
}

// ensureEntry returns the service entry, creating it and its traffic
// breaker on first use
func (r *Registry) ensureEntry(service string) *serviceEntry {
	if e := r.entry(service); e != nil {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.services[service]; ok {
		return e
	}
	e := &serviceEntry{
		name:      service,
		breaker:   r.breakers.GetBreaker(service),
		balancers: make(map[types.Strategy]balancer.Balancer),
		outcomes:  make(map[string]*outcomeRing),
	}
	r.services[service] = e
	return e
}

// RegisterInstance adds or replaces the instance with the same ID.
// An empty ID is replaced with a generated one; zero weight becomes 1 and
// an empty status becomes healthy.
func (r *Registry) RegisterInstance(service string, instance *types.ServiceInstance) error {
	if strings.TrimSpace(service) == "" {
		return fmt.Errorf("%w: empty service name", types.ErrInvalidInstance)
	}
	inst, err := r.normalizeInstance(instance)
	if err != nil {
		return types.ProxyError{Op: "register instance", Service: service, Err: err}
	}

	e := r.ensureEntry(service)

	e.mu.Lock()
	replaced := false
	for i, existing := range e.instances {
		if existing.ID == inst.ID {
			e.instances[i] = inst
			delete(e.outcomes, inst.ID)
			replaced = true
			break
		}
	}
	if !replaced {
		e.instances = append(e.instances, inst)
	}
	e.mu.Unlock()

	r.logger.Info("registered service instance",
		"service", service,
		"instance", inst.ID,
		"url", inst.BaseURL,
		"replaced", replaced,
	)
	return nil
}

func (r *Registry) normalizeInstance(instance *types.ServiceInstance) (*types.ServiceInstance, error) {
	if instance == nil {
		return nil, fmt.Errorf("%w: nil instance", types.ErrInvalidInstance)
	}
	inst := instance.Clone()

	if err := validateBaseURL(inst.BaseURL); err != nil {
		return nil, err
	}
	inst.BaseURL = strings.TrimRight(inst.BaseURL, "/")

	switch {
	case inst.Weight < 0:
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidWeight, inst.Weight)
	case inst.Weight == 0:
		inst.Weight = 1
	}

	if inst.Status == "" {
		inst.Status = types.InstanceStatusHealthy
	}
	if !inst.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrInvalidInstance, inst.Status)
	}

	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.Version == "" {
		inst.Version = types.DefaultInstanceVersion
	}
	if inst.ActiveConnections < 0 {
		inst.ActiveConnections = 0
	}
	return inst, nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidInstance, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base URL %q must be an absolute http or https URL", types.ErrInvalidInstance, raw)
	}
	return nil
}

// DeregisterInstance removes an instance. Unknown services and instances
// are ignored.
func (r *Registry) DeregisterInstance(service, instanceID string) {
	e := r.entry(service)
	if e == nil {
		return
	}

	e.mu.Lock()
	removed := e.removeLocked(instanceID)
	e.mu.Unlock()

	if removed {
		r.logger.Info("deregistered service instance", "service", service, "instance", instanceID)
	}
}

// removeLocked drops the instance with its balancer state and outcomes
func (e *serviceEntry) removeLocked(instanceID string) bool {
	for i, inst := range e.instances {
		if inst.ID != instanceID {
			continue
		}
		e.instances = append(e.instances[:i], e.instances[i+1:]...)
		for _, lb := range e.balancers {
			lb.Remove(instanceID)
		}
		delete(e.outcomes, instanceID)
		return true
	}
	return false
}

// RegisterService registers one instance per endpoint of def and removes
// previously registered instances the definition no longer lists.
// Instances that survive keep their runtime status and metrics.
func (r *Registry) RegisterService(def *types.ServiceDefinition) error {
	if def == nil || strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: service definition needs a name", types.ErrInvalidInstance)
	}
	defined, err := balancer.InstancesFromDefinition(def)
	if err != nil {
		return types.ProxyError{Op: "register service", Service: def.Name, Err: err}
	}

	instances := make([]*types.ServiceInstance, 0, len(defined))
	for _, inst := range defined {
		normalized, err := r.normalizeInstance(inst)
		if err != nil {
			return types.ProxyError{Op: "register service", Service: def.Name, Err: err}
		}
		instances = append(instances, normalized)
	}

	e := r.ensureEntry(def.Name)

	e.mu.Lock()
	e.healthURL = def.HealthURL
	keep := make(map[string]bool, len(instances))
	added := 0
	for _, inst := range instances {
		keep[inst.ID] = true
		if existing := e.findLocked(inst.ID); existing != nil {
			existing.BaseURL = inst.BaseURL
			existing.Weight = inst.Weight
			existing.Version = inst.Version
			existing.Metadata = inst.Metadata
			continue
		}
		e.instances = append(e.instances, inst)
		added++
	}
	var stale []string
	for _, inst := range e.instances {
		if !keep[inst.ID] {
			stale = append(stale, inst.ID)
		}
	}
	for _, id := range stale {
		e.removeLocked(id)
	}
	e.mu.Unlock()

	r.logger.Info("registered service",
		"service", def.Name,
		"instances", len(instances),
		"added", added,
		"removed", len(stale),
	)
	return nil
}

// RemoveService drops a service with all its instances and its traffic
// breaker
func (r *Registry) RemoveService(service string) {
	r.mu.Lock()
	_, ok := r.services[service]
	delete(r.services, service)
	r.mu.Unlock()

	if ok {
		r.breakers.RemoveBreaker(service)
		r.logger.Info("removed service", "service", service)
	}
}

// Services returns the registered service names in sorted order
func (r *Registry) Services() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Instances returns copies of a service's instances in registration order
func (r *Registry) Instances(service string) ([]*types.ServiceInstance, error) {
	e := r.entry(service)
	if e == nil {
		return nil, types.ProxyError{Op: "instances", Service: service, Err: types.ErrUnknownService}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.ServiceInstance, len(e.instances))
	for i, inst := range e.instances {
		out[i] = inst.Clone()
	}
	return out, nil
}

// SetInstanceStatus changes an instance's status, for example to take it
// out of rotation for maintenance
func (r *Registry) SetInstanceStatus(service, instanceID string, status types.InstanceStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", types.ErrInvalidInstance, status)
	}
	e := r.entry(service)
	if e == nil {
		return types.ProxyError{Op: "set status", Service: service, Err: types.ErrUnknownService}
	}

	e.mu.Lock()
	inst := e.findLocked(instanceID)
	if inst == nil {
		e.mu.Unlock()
		return types.ProxyError{Op: "set status", Service: service, Err: fmt.Errorf("%w: %s", types.ErrInstanceNotFound, instanceID)}
	}
	from := inst.Status
	inst.Status = status
	e.mu.Unlock()

	if from != status {
		r.logger.Info("instance status changed",
			"service", service,
			"instance", instanceID,
			"from", string(from),
			"to", string(status),
		)
	}
	return nil
}

func (e *serviceEntry) findLocked(instanceID string) *types.ServiceInstance {
	for _, inst := range e.instances {
		if inst.ID == instanceID {
			return inst
		}
	}
	return nil
}

// CircuitBreakerStates returns snapshots of the traffic breakers
func (r *Registry) CircuitBreakerStates() []circuit.Snapshot {
	return r.breakers.GetAllStates()
}

// Breaker returns the traffic breaker of a registered service
func (r *Registry) Breaker(service string) (*circuit.Breaker, bool) {
	return r.breakers.Lookup(service)
}
