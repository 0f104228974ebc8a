package api

import (
	"time"

	"gatewaycore/internal/circuit"
	"gatewaycore/internal/types"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResult is the wire form of one probe record
type HealthResult struct {
	ServiceName    string             `json:"service_name"`
	Status         types.HealthStatus `json:"status"`
	ResponseTimeMs float64            `json:"response_time_ms"`
	Timestamp      time.Time          `json:"timestamp"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	Details        map[string]any     `json:"details,omitempty"`
}

func toHealthResult(r types.HealthCheckResult) HealthResult {
	return HealthResult{
		ServiceName:    r.ServiceName,
		Status:         r.Status,
		ResponseTimeMs: r.ResponseTimeMs(),
		Timestamp:      r.Timestamp,
		ErrorMessage:   r.ErrorMessage,
		Details:        r.Details,
	}
}

func toHealthResults(results []types.HealthCheckResult) []HealthResult {
	out := make([]HealthResult, len(results))
	for i, r := range results {
		out[i] = toHealthResult(r)
	}
	return out
}

// ServiceHealth is the liveness picture of one service
type ServiceHealth struct {
	ServiceName string             `json:"service_name"`
	Status      types.HealthStatus `json:"status"`
	Healthy     bool               `json:"healthy"`
	Liveness    circuit.Snapshot   `json:"circuit_breaker"`
	LastResult  *HealthResult      `json:"last_result,omitempty"`
}

// ServiceResponse lists one registered service with its instances
type ServiceResponse struct {
	Name      string                   `json:"name"`
	Instances []*types.ServiceInstance `json:"instances"`
}

// BreakerResponse groups traffic and liveness breaker snapshots
type BreakerResponse struct {
	Traffic  []circuit.Snapshot `json:"traffic"`
	Liveness []circuit.Snapshot `json:"liveness"`
}

// RouteMatch answers which rule routes a path
type RouteMatch struct {
	Path string          `json:"path"`
	Rule types.RouteRule `json:"rule"`
}

// ProbeEvent is pushed to health stream subscribers for every probe
type ProbeEvent struct {
	Type     string        `json:"type"`
	Result   HealthResult  `json:"result"`
	Liveness circuit.State `json:"liveness"`
}
