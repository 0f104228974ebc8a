package types

import (
	"fmt"
	"strings"
	"time"
)

// Strategy names a load balancing algorithm
type Strategy string

const (
	StrategyRoundRobin         Strategy = "round_robin"
	StrategyLeastConnections   Strategy = "least_connections"
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"
	StrategyRandom             Strategy = "random"
	StrategyIPHash             Strategy = "ip_hash"
)

// Strategies lists every supported strategy
var Strategies = []Strategy{
	StrategyRoundRobin,
	StrategyLeastConnections,
	StrategyWeightedRoundRobin,
	StrategyRandom,
	StrategyIPHash,
}

// ParseStrategy converts a configured name into a Strategy.
// An empty name selects round-robin.
func ParseStrategy(name string) (Strategy, error) {
	if name == "" {
		return StrategyRoundRobin, nil
	}
	s := Strategy(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Strategies {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, name)
}

// Route defaults
const (
	DefaultRateLimit  = "100/minute"
	DefaultTimeout    = 30 * time.Second
	DefaultRetryCount = 3
)

// RouteRule binds a URL pattern to a service and its policies
type RouteRule struct {
	Pattern               string         `json:"pattern" yaml:"pattern"`
	ServiceName           string         `json:"service_name" yaml:"service"`
	Strategy              Strategy       `json:"strategy" yaml:"strategy"`
	AuthRequired          bool           `json:"auth_required" yaml:"auth_required"`
	AdminOnly             bool           `json:"admin_only" yaml:"admin_only"`
	RateLimit             string         `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	Timeout               time.Duration  `json:"timeout" yaml:"timeout"`
	RetryCount            int            `json:"retry_count" yaml:"retry_count"`
	CircuitBreakerEnabled bool           `json:"circuit_breaker" yaml:"circuit_breaker"`
	CanaryPercentage      float64        `json:"canary_percentage" yaml:"canary_percentage"`
	RequestTransform      map[string]any `json:"request_transform,omitempty" yaml:"request_transform,omitempty"`
	ResponseTransform     map[string]any `json:"response_transform,omitempty" yaml:"response_transform,omitempty"`
}

// DefaultRouteRule returns a rule for pattern with the platform defaults applied
func DefaultRouteRule(pattern, service string) RouteRule {
	return RouteRule{
		Pattern:               pattern,
		ServiceName:           service,
		Strategy:              StrategyRoundRobin,
		RateLimit:             DefaultRateLimit,
		Timeout:               DefaultTimeout,
		RetryCount:            DefaultRetryCount,
		CircuitBreakerEnabled: true,
	}
}

// IsWildcard returns true if the pattern contains a wildcard
func (r *RouteRule) IsWildcard() bool {
	return strings.Contains(r.Pattern, "*")
}

// IsPrefix returns true if the pattern matches by prefix
func (r *RouteRule) IsPrefix() bool {
	return !r.IsWildcard() && strings.HasSuffix(r.Pattern, "/")
}
