package circuit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"gatewaycore/internal/logging"
	"gatewaycore/internal/types"
)

// Guard protects calls to a remote dependency using sony/gobreaker.
// Once tripped it fails fast with types.ErrStorageUnavailable.
type Guard struct {
	breaker *gobreaker.CircuitBreaker
	logger  types.Logger
}

// GuardSettings configures a Guard
type GuardSettings struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// NewGuard creates a guard. Caller errors such as not-found or
// already-exists do not count as failures.
func NewGuard(settings GuardSettings, logger types.Logger) *Guard {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = 1
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}

	g := &Guard{logger: logger}
	threshold := uint32(settings.FailureThreshold)
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: uint32(settings.SuccessThreshold),
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Warn("storage guard state change",
				"guard", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, types.ErrServiceNotFound) ||
				errors.Is(err, types.ErrRouteNotFound) ||
				errors.Is(err, types.ErrAlreadyExists) ||
				errors.Is(err, context.Canceled)
		},
	})
	return g
}

// Execute runs fn with breaker protection
func (g *Guard) Execute(fn func() error) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", types.ErrStorageUnavailable, g.breaker.Name())
	}
	return err
}

// State returns the guard state as closed, open or half_open
func (g *Guard) State() State {
	switch g.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
