// Package circuit implements circuit breaking and active health probing
package circuit

import (
	"sort"
	"sync"
	"time"

	"gatewaycore/internal/logging"
	"gatewaycore/internal/types"
)

// State is a circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds circuit breaker thresholds
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	ProbeTimeout     time.Duration
	SuccessThreshold int
}

// DefaultConfig returns the platform breaker defaults
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		ProbeTimeout:     10 * time.Second,
		SuccessThreshold: 3,
	}
}

// normalize fills zero values with the defaults
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	return c
}

// Snapshot is a point-in-time copy of a breaker's state
type Snapshot struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// StateChangeFunc is invoked after every transition
type StateChangeFunc func(name string, from, to State)

// Option configures a Breaker
type Option func(*Breaker)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithLogger sets the logger used for transitions
func WithLogger(logger types.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithStateChange registers a transition hook
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// Breaker is a CLOSED/OPEN/HALF_OPEN failure tracking state machine
type Breaker struct {
	name     string
	cfg      Config
	now      func() time.Time
	logger   types.Logger
	onChange StateChangeFunc

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
}

// NewBreaker creates a closed breaker
func NewBreaker(name string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:   name,
		cfg:    cfg.normalize(),
		now:    time.Now,
		logger: logging.Nop(),
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// Config returns the breaker thresholds
func (b *Breaker) Config() Config {
	return b.cfg
}

// CanExecute reports whether a call may proceed. An open breaker whose
// recovery timeout has elapsed moves to half-open and admits the caller.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	switch b.state {
	case StateClosed, StateHalfOpen:
		b.mu.Unlock()
		return true
	}

	if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
		b.mu.Unlock()
		return false
	}

	b.successCount = 0
	from := b.transition(StateHalfOpen)
	b.mu.Unlock()

	b.notify(from, StateHalfOpen)
	return true
}

// RecordSuccess reports a successful call
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	switch b.state {
	case StateClosed, StateOpen:
		b.failureCount = 0
		b.mu.Unlock()
		return
	}

	b.successCount++
	if b.successCount < b.cfg.SuccessThreshold {
		b.mu.Unlock()
		return
	}

	b.failureCount = 0
	b.successCount = 0
	from := b.transition(StateClosed)
	b.mu.Unlock()

	b.notify(from, StateClosed)
}

// RecordFailure reports a failed call
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failureCount++
	b.lastFailure = b.now()

	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		return
	case StateClosed:
		if b.failureCount < b.cfg.FailureThreshold {
			b.mu.Unlock()
			return
		}
	}

	from := b.transition(StateOpen)
	b.mu.Unlock()

	b.notify(from, StateOpen)
}

// GetState returns a snapshot of the breaker
func (b *Breaker) GetState() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailure,
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears its counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failureCount = 0
	b.successCount = 0
	b.lastFailure = time.Time{}
	from := b.transition(StateClosed)
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// transition must be called with mu held
func (b *Breaker) transition(to State) State {
	from := b.state
	b.state = to
	return from
}

func (b *Breaker) notify(from, to State) {
	log := b.logger.Info
	if to == StateOpen {
		log = b.logger.Warn
	}
	log("circuit breaker state change",
		"breaker", b.name,
		"from", string(from),
		"to", string(to),
	)
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// MultiCircuitBreaker manages one breaker per name
type MultiCircuitBreaker struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	opts     []Option
}

// NewMultiCircuitBreaker creates a breaker set sharing one configuration
func NewMultiCircuitBreaker(cfg Config, opts ...Option) *MultiCircuitBreaker {
	return &MultiCircuitBreaker{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		opts:     opts,
	}
}

// GetBreaker returns the breaker for name, creating it on first use
func (m *MultiCircuitBreaker) GetBreaker(name string) *Breaker {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	breaker = NewBreaker(name, m.cfg, m.opts...)
	m.breakers[name] = breaker
	return breaker
}

// Lookup returns the breaker for name without creating it
func (m *MultiCircuitBreaker) Lookup(name string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	breaker, exists := m.breakers[name]
	return breaker, exists
}

// RemoveBreaker removes the breaker for name
func (m *MultiCircuitBreaker) RemoveBreaker(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, name)
}

// GetAllStates returns snapshots of all breakers sorted by name
func (m *MultiCircuitBreaker) GetAllStates() []Snapshot {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		breakers = append(breakers, breaker)
	}
	m.mu.RUnlock()

	states := make([]Snapshot, 0, len(breakers))
	for _, breaker := range breakers {
		states = append(states, breaker.GetState())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Name < states[j].Name
	})
	return states
}

// ResetAll resets all breakers
func (m *MultiCircuitBreaker) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, breaker := range m.breakers {
		breaker.Reset()
	}
}
