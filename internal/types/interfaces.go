// Package types defines the core data model and interfaces for the gateway traffic core
package types

import (
	"context"
	"time"
)

// Storage persists service and route definitions
type Storage interface {
	// Services
	GetService(ctx context.Context, name string) (*ServiceDefinition, error)
	ListServices(ctx context.Context) ([]*ServiceDefinition, error)
	CreateService(ctx context.Context, service *ServiceDefinition) error
	UpdateService(ctx context.Context, service *ServiceDefinition) error
	DeleteService(ctx context.Context, name string) error

	// Routes
	GetRoute(ctx context.Context, pattern string) (*RouteRule, error)
	ListRoutes(ctx context.Context) ([]*RouteRule, error)
	CreateRoute(ctx context.Context, route *RouteRule) error
	UpdateRoute(ctx context.Context, route *RouteRule) error
	DeleteRoute(ctx context.Context, pattern string) error

	// Watch for changes
	Watch(ctx context.Context) <-chan StorageEvent

	// Close closes the storage
	Close() error
}

// MetricsCollector gathers traffic-core metrics
type MetricsCollector interface {
	// RecordSelection records the outcome of an instance selection
	RecordSelection(service, strategy string, selected bool)
	// RecordOutcome records a proxied call outcome reported back by the proxy layer
	RecordOutcome(service string, success bool, duration time.Duration)
	// RecordBreakerState records a circuit breaker transition
	RecordBreakerState(breaker, service, state string)
	// RecordProbe records a health probe result
	RecordProbe(service, status string, duration time.Duration)
}

// Logger provides structured logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}
