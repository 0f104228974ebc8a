package types

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNoHealthyInstance indicates no eligible instance exists for a service
	ErrNoHealthyInstance = errors.New("no healthy instance available")

	// ErrCircuitOpen indicates an attempt was rejected by a circuit breaker
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrProbeTimeout indicates a health probe exceeded its timeout
	ErrProbeTimeout = errors.New("probe timeout")

	// ErrProbeConnection indicates a health probe could not reach the service
	ErrProbeConnection = errors.New("probe connection error")

	// ErrUnknownService indicates an operation referenced an unregistered service
	ErrUnknownService = errors.New("unknown service")

	// ErrInvalidRoutePattern indicates a malformed route pattern
	ErrInvalidRoutePattern = errors.New("invalid route pattern")

	// ErrRouteNotFound indicates no route matched the request path
	ErrRouteNotFound = errors.New("route not found")

	// ErrInstanceNotFound indicates the referenced instance is not registered
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInvalidStrategy indicates an unknown load balancing strategy
	ErrInvalidStrategy = errors.New("invalid load balancing strategy")

	// ErrInvalidInstance indicates a malformed service instance
	ErrInvalidInstance = errors.New("invalid service instance")

	// ErrInvalidWeight indicates an invalid weight value
	ErrInvalidWeight = errors.New("invalid weight value")

	// ErrInvalidRateLimit indicates a malformed rate limit specification
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrRateLimitExceeded indicates the route rate limit has been exceeded
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidConfiguration indicates invalid configuration
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrServiceNotFound indicates the stored service definition does not exist
	ErrServiceNotFound = errors.New("service not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidRequest indicates an invalid request
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStorageUnavailable indicates the definition store is failing fast
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// ProbeHTTPError reports a probe answered with a non-200 status
type ProbeHTTPError struct {
	StatusCode int
}

func (e ProbeHTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors: %v", e.Errors)
}

// Add adds an error to the MultiError
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (e *MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// ProxyError wraps an error with additional context
type ProxyError struct {
	Op      string // Operation that failed
	Service string // Service involved
	Err     error  // Original error
}

func (e ProxyError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Service, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e ProxyError) Unwrap() error {
	return e.Err
}

// IsUnavailable returns true if the error should surface as "service unavailable"
// at the proxy boundary
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrNoHealthyInstance) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrUnknownService)
}

// IsTimeout returns true if the error should surface as "gateway timeout"
func IsTimeout(err error) bool {
	return errors.Is(err, ErrProbeTimeout)
}
