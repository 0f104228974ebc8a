package types

import "time"

// GatewayConfig represents the complete gateway core configuration
type GatewayConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Logging struct {
		Level  string `mapstructure:"level" yaml:"level"`
		Format string `mapstructure:"format" yaml:"format"` // json, console
	} `mapstructure:"logging" yaml:"logging"`

	// Health probing
	HealthCheck struct {
		Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
		Path        string        `mapstructure:"path" yaml:"path"`
		HistorySize int           `mapstructure:"history_size" yaml:"history_size"`
		Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	} `mapstructure:"health_check" yaml:"health_check"`

	CircuitBreaker struct {
		FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
		RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`
		ProbeTimeout     time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
		SuccessThreshold int           `mapstructure:"success_threshold" yaml:"success_threshold"`
	} `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`

	// Definition store backend
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Operational API
	API struct {
		Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
		Addr    string `mapstructure:"addr" yaml:"addr"`
	} `mapstructure:"api" yaml:"api"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
		Path    string `mapstructure:"path" yaml:"path"`
	} `mapstructure:"metrics" yaml:"metrics"`

	Services []ServiceConfig `mapstructure:"services" yaml:"services"`
	Routes   []RouteConfig   `mapstructure:"routes" yaml:"routes"`
}

// StorageConfig selects and configures the definition store
type StorageConfig struct {
	Type      string   `mapstructure:"type" yaml:"type"` // memory, sqlite, etcd
	DSN       string   `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Endpoints []string `mapstructure:"endpoints" yaml:"endpoints,omitempty"`
	Prefix    string   `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// ServiceConfig is a statically configured service
type ServiceConfig struct {
	Name      string         `mapstructure:"name" yaml:"name"`
	URLs      []string       `mapstructure:"urls" yaml:"urls"`
	HealthURL string         `mapstructure:"health_url" yaml:"health_url,omitempty"`
	Weight    int            `mapstructure:"weight" yaml:"weight,omitempty"`
	Version   string         `mapstructure:"version" yaml:"version,omitempty"`
	Metadata  map[string]any `mapstructure:"metadata" yaml:"metadata,omitempty"`
}

// Definition converts the configured service into its stored form
func (c ServiceConfig) Definition() *ServiceDefinition {
	return &ServiceDefinition{
		Name:      c.Name,
		Endpoints: append([]string(nil), c.URLs...),
		HealthURL: c.HealthURL,
		Weight:    c.Weight,
		Version:   c.Version,
		Metadata:  c.Metadata,
	}
}

// RouteConfig is a statically configured route rule. Pointer fields
// distinguish "unset" from an explicit zero so defaults can be applied.
type RouteConfig struct {
	Pattern           string         `mapstructure:"pattern" yaml:"pattern"`
	Service           string         `mapstructure:"service" yaml:"service"`
	Strategy          string         `mapstructure:"strategy" yaml:"strategy,omitempty"`
	AuthRequired      bool           `mapstructure:"auth_required" yaml:"auth_required,omitempty"`
	AdminOnly         bool           `mapstructure:"admin_only" yaml:"admin_only,omitempty"`
	RateLimit         *string        `mapstructure:"rate_limit" yaml:"rate_limit,omitempty"`
	Timeout           time.Duration  `mapstructure:"timeout" yaml:"timeout,omitempty"`
	RetryCount        *int           `mapstructure:"retry_count" yaml:"retry_count,omitempty"`
	CircuitBreaker    *bool          `mapstructure:"circuit_breaker" yaml:"circuit_breaker,omitempty"`
	CanaryPercentage  float64        `mapstructure:"canary_percentage" yaml:"canary_percentage,omitempty"`
	RequestTransform  map[string]any `mapstructure:"request_transform" yaml:"request_transform,omitempty"`
	ResponseTransform map[string]any `mapstructure:"response_transform" yaml:"response_transform,omitempty"`
}

// Rule converts the configured route into a RouteRule with defaults applied
func (c RouteConfig) Rule() RouteRule {
	rule := DefaultRouteRule(c.Pattern, c.Service)
	if s, err := ParseStrategy(c.Strategy); err == nil {
		rule.Strategy = s
	} else {
		// Left as given so registration reports the bad name
		rule.Strategy = Strategy(c.Strategy)
	}
	rule.AuthRequired = c.AuthRequired
	rule.AdminOnly = c.AdminOnly
	if c.RateLimit != nil {
		rule.RateLimit = *c.RateLimit
	}
	if c.Timeout > 0 {
		rule.Timeout = c.Timeout
	}
	if c.RetryCount != nil {
		rule.RetryCount = *c.RetryCount
	}
	if c.CircuitBreaker != nil {
		rule.CircuitBreakerEnabled = *c.CircuitBreaker
	}
	rule.CanaryPercentage = c.CanaryPercentage
	rule.RequestTransform = c.RequestTransform
	rule.ResponseTransform = c.ResponseTransform
	return rule
}
