package types

import "time"

// HealthStatus is the outcome of a health probe
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheckResult is one immutable probe record
type HealthCheckResult struct {
	ServiceName  string         `json:"service_name"`
	Status       HealthStatus   `json:"status"`
	ResponseTime time.Duration  `json:"-"`
	Timestamp    time.Time      `json:"timestamp"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`

	// Err is the classified cause of an unhealthy result
	Err error `json:"-"`
}

// ResponseTimeMs returns the probe response time in milliseconds
func (r HealthCheckResult) ResponseTimeMs() float64 {
	return float64(r.ResponseTime) / float64(time.Millisecond)
}

// Healthy returns true if the probe succeeded
func (r HealthCheckResult) Healthy() bool {
	return r.Status == HealthStatusHealthy
}
