// Package config loads and watches the gateway core configuration
package config

import (
	"time"

	"github.com/spf13/viper"

	"gatewaycore/internal/types"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "GATEWAY"

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("shutdown_timeout", "15s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Health check defaults
	v.SetDefault("health_check.interval", "30s")
	v.SetDefault("health_check.path", "/health")
	v.SetDefault("health_check.history_size", 100)
	v.SetDefault("health_check.concurrency", 4)

	// Circuit breaker defaults
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.recovery_timeout", "60s")
	v.SetDefault("circuit_breaker.probe_timeout", "10s")
	v.SetDefault("circuit_breaker.success_threshold", 3)

	// Storage defaults
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.dsn", "gatewaycore.db")
	v.SetDefault("storage.prefix", "/gatewaycore")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8013")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// platformService describes one backend of the default platform table
type platformService struct {
	name      string
	pattern   string
	port      string
	timeout   time.Duration
	strategy  types.Strategy
	auth      bool
	adminOnly bool
}

var platform = []platformService{
	{"naebak-auth-service", "/api/auth/", "8001", 10 * time.Second, types.StrategyRoundRobin, false, false},
	{"naebak-admin-service", "/api/admin/", "8002", 15 * time.Second, types.StrategyLeastConnections, true, true},
	{"naebak-complaints-service", "/api/complaints/", "8003", 20 * time.Second, types.StrategyRoundRobin, true, false},
	{"naebak-messaging-service", "/api/messages/", "8004", 10 * time.Second, types.StrategyLeastConnections, true, false},
	{"naebak-notifications-service", "/api/notifications/", "8008", 8 * time.Second, types.StrategyRoundRobin, true, false},
	{"naebak-content-service", "/api/content/", "8010", 15 * time.Second, types.StrategyWeightedRoundRobin, false, false},
	{"naebak-ratings-service", "/api/ratings/", "8005", 5 * time.Second, types.StrategyRoundRobin, true, false},
	{"naebak-news-service", "/api/news/", "8007", 5 * time.Second, types.StrategyRoundRobin, false, false},
	{"naebak-banner-service", "/api/banners/", "8009", 10 * time.Second, types.StrategyRoundRobin, false, false},
	{"naebak-visitor-counter-service", "/api/visitors/", "8006", 3 * time.Second, types.StrategyRandom, false, false},
	{"naebak-statistics-service", "/api/statistics/", "8012", 10 * time.Second, types.StrategyRoundRobin, false, false},
	{"naebak-theme-service", "/api/themes/", "8014", 5 * time.Second, types.StrategyRoundRobin, true, false},
}

// DefaultServices returns the platform services used when none are configured
func DefaultServices() []types.ServiceConfig {
	services := make([]types.ServiceConfig, 0, len(platform))
	for _, p := range platform {
		services = append(services, types.ServiceConfig{
			Name: p.name,
			URLs: []string{"http://localhost:" + p.port},
		})
	}
	return services
}

// DefaultRoutes returns the platform route table used when none is configured
func DefaultRoutes() []types.RouteConfig {
	routes := make([]types.RouteConfig, 0, len(platform))
	for _, p := range platform {
		routes = append(routes, types.RouteConfig{
			Pattern:      p.pattern,
			Service:      p.name,
			Strategy:     string(p.strategy),
			AuthRequired: p.auth,
			AdminOnly:    p.adminOnly,
			Timeout:      p.timeout,
		})
	}
	return routes
}

// Definitions converts the configured services and routes into their
// stored forms
func Definitions(cfg *types.GatewayConfig) ([]*types.ServiceDefinition, []types.RouteRule) {
	services := make([]*types.ServiceDefinition, 0, len(cfg.Services))
	for _, s := range cfg.Services {
		services = append(services, s.Definition())
	}
	routes := make([]types.RouteRule, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes = append(routes, r.Rule())
	}
	return services, routes
}
