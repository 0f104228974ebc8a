package types

import (
	"time"
)

// InstanceStatus represents the health status of a service instance
type InstanceStatus string

const (
	InstanceStatusHealthy     InstanceStatus = "healthy"
	InstanceStatusUnhealthy   InstanceStatus = "unhealthy"
	InstanceStatusDegraded    InstanceStatus = "degraded"
	InstanceStatusMaintenance InstanceStatus = "maintenance"
)

// Valid returns true if the status is one of the known values
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceStatusHealthy, InstanceStatusUnhealthy, InstanceStatusDegraded, InstanceStatusMaintenance:
		return true
	}
	return false
}

// Routable returns true if an instance in this status may receive traffic
func (s InstanceStatus) Routable() bool {
	return s == InstanceStatusHealthy || s == InstanceStatusDegraded
}

// DefaultInstanceVersion is assigned to instances registered without a version
const DefaultInstanceVersion = "1.0.0"

// ServiceInstance represents one backend endpoint of a logical service
type ServiceInstance struct {
	ID                string         `json:"id"`
	BaseURL           string         `json:"base_url"`
	Weight            int            `json:"weight"`
	Status            InstanceStatus `json:"status"`
	LastProbeTime     time.Time      `json:"last_probe_time"`
	ResponseTimeEWMA  float64        `json:"response_time_ms"`
	ActiveConnections int64          `json:"active_connections"`
	ErrorRatePercent  float64        `json:"error_rate"`
	Version           string         `json:"version"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy of the instance that shares no mutable state
func (i *ServiceInstance) Clone() *ServiceInstance {
	if i == nil {
		return nil
	}
	c := *i
	if i.Metadata != nil {
		c.Metadata = make(map[string]any, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ServiceDefinition is the stored form of a logical service
type ServiceDefinition struct {
	Name      string         `json:"name" yaml:"name" mapstructure:"name"`
	Endpoints []string       `json:"endpoints" yaml:"urls" mapstructure:"urls"`
	HealthURL string         `json:"health_url,omitempty" yaml:"health_url,omitempty" mapstructure:"health_url"`
	Weight    int            `json:"weight" yaml:"weight" mapstructure:"weight"`
	Version   string         `json:"version,omitempty" yaml:"version,omitempty" mapstructure:"version"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty" mapstructure:"metadata"`
	CreatedAt time.Time      `json:"created_at" yaml:"-" mapstructure:"-"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"-" mapstructure:"-"`
}

// GetEndpointCount returns the number of endpoints for the service
func (s *ServiceDefinition) GetEndpointCount() int {
	return len(s.Endpoints)
}

// InstanceStats is the per-instance detail of ServiceStats
type InstanceStats struct {
	ID                string         `json:"id"`
	BaseURL           string         `json:"base_url"`
	Status            InstanceStatus `json:"status"`
	Weight            int            `json:"weight"`
	ResponseTimeMs    float64        `json:"response_time_ms"`
	ErrorRatePercent  float64        `json:"error_rate"`
	ActiveConnections int64          `json:"active_connections"`
	LastProbeTime     time.Time      `json:"last_probe_time"`
	Version           string         `json:"version"`
}

// ServiceStats summarizes the instances of a service
type ServiceStats struct {
	ServiceName       string          `json:"service_name"`
	Status            string          `json:"status"`
	InstanceCount     int             `json:"instance_count"`
	HealthyCount      int             `json:"healthy_instances"`
	AvgResponseTimeMs float64         `json:"avg_response_time"`
	AvgErrorRate      float64         `json:"avg_error_rate"`
	Instances         []InstanceStats `json:"instances"`
}

// ProbeTarget is the liveness endpoint of one service
type ProbeTarget struct {
	Service string
	URL     string
}
