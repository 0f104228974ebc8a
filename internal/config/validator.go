package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"gatewaycore/internal/router"
	"gatewaycore/internal/types"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// Validate validates a GatewayConfig
func Validate(cfg *types.GatewayConfig) error {
	if cfg.ShutdownTimeout <= 0 {
		return invalid("shutdown_timeout must be positive")
	}

	// Validate logging
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return invalid("invalid logging.level: %s", cfg.Logging.Level)
	}
	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[strings.ToLower(cfg.Logging.Format)] {
		return invalid("invalid logging.format: %s", cfg.Logging.Format)
	}

	// Validate health check
	hc := cfg.HealthCheck
	if hc.Interval <= 0 {
		return invalid("health_check.interval must be positive")
	}
	if !strings.HasPrefix(hc.Path, "/") {
		return invalid("health_check.path must start with /")
	}
	if hc.HistorySize <= 0 {
		return invalid("health_check.history_size must be positive")
	}
	if hc.Concurrency <= 0 {
		return invalid("health_check.concurrency must be positive")
	}

	// Validate circuit breaker
	cb := cfg.CircuitBreaker
	if cb.FailureThreshold <= 0 {
		return invalid("circuit_breaker.failure_threshold must be positive")
	}
	if cb.SuccessThreshold <= 0 {
		return invalid("circuit_breaker.success_threshold must be positive")
	}
	if cb.RecoveryTimeout <= 0 {
		return invalid("circuit_breaker.recovery_timeout must be positive")
	}
	if cb.ProbeTimeout <= 0 {
		return invalid("circuit_breaker.probe_timeout must be positive")
	}
	if cb.ProbeTimeout >= hc.Interval {
		return invalid("circuit_breaker.probe_timeout must be less than health_check.interval")
	}

	// Validate storage
	switch strings.ToLower(cfg.Storage.Type) {
	case "memory":
	case "sqlite":
		if cfg.Storage.DSN == "" {
			return invalid("storage.dsn is required for sqlite")
		}
	case "etcd":
		if len(cfg.Storage.Endpoints) == 0 {
			return invalid("storage.endpoints are required for etcd")
		}
	default:
		return invalid("invalid storage.type: %s", cfg.Storage.Type)
	}

	// Validate API
	if cfg.API.Enabled {
		if cfg.API.Addr == "" {
			return invalid("api.addr is required when API is enabled")
		}
		if _, _, err := net.SplitHostPort(cfg.API.Addr); err != nil {
			return invalid("invalid api.addr: %v", err)
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return invalid("metrics.path must start with /")
	}

	return validateDefinitions(cfg)
}

func validateDefinitions(cfg *types.GatewayConfig) error {
	services := make(map[string]bool, len(cfg.Services))
	for i, s := range cfg.Services {
		if strings.TrimSpace(s.Name) == "" {
			return invalid("services[%d].name is required", i)
		}
		if services[s.Name] {
			return invalid("duplicate service %s", s.Name)
		}
		services[s.Name] = true

		if len(s.URLs) == 0 {
			return invalid("service %s has no urls", s.Name)
		}
		for _, raw := range s.URLs {
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return invalid("service %s has invalid url %q", s.Name, raw)
			}
		}
		if s.Weight < 0 {
			return invalid("service %s has negative weight", s.Name)
		}
	}

	patterns := make(map[string]bool, len(cfg.Routes))
	for _, r := range cfg.Routes {
		if err := router.ValidatePattern(r.Pattern); err != nil {
			return fmt.Errorf("%w: %w", types.ErrInvalidConfiguration, err)
		}
		if patterns[r.Pattern] {
			return invalid("duplicate route %s", r.Pattern)
		}
		patterns[r.Pattern] = true

		if !services[r.Service] {
			return invalid("route %s references unknown service %q", r.Pattern, r.Service)
		}
		if _, err := types.ParseStrategy(r.Strategy); err != nil {
			return fmt.Errorf("%w: route %s: %w", types.ErrInvalidConfiguration, r.Pattern, err)
		}

		rule := r.Rule()
		if _, _, err := router.ParseRateLimit(rule.RateLimit); err != nil {
			return fmt.Errorf("%w: route %s: %w", types.ErrInvalidConfiguration, r.Pattern, err)
		}
		if rule.CanaryPercentage < 0 || rule.CanaryPercentage > 100 {
			return invalid("route %s canary_percentage must be within 0-100", r.Pattern)
		}
		if rule.RetryCount < 0 {
			return invalid("route %s retry_count must not be negative", r.Pattern)
		}
	}
	return nil
}
