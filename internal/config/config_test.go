package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaycore/internal/config"
	"gatewaycore/internal/logging"
	"gatewaycore/internal/types"
)

const sampleConfig = `
logging:
  level: debug
  format: console
health_check:
  interval: 15s
storage:
  type: sqlite
  dsn: /tmp/gw.db
services:
  - name: auth
    urls: ["http://localhost:8001", "http://localhost:8101"]
    health_url: http://localhost:8001/healthz
    weight: 2
  - name: content
    urls: ["http://localhost:8010"]
routes:
  - pattern: /api/auth/
    service: auth
    timeout: 10s
  - pattern: /api/content/
    service: content
    strategy: weighted_round_robin
    rate_limit: ""
    circuit_breaker: false
    retry_count: 0
`

func TestLoadFromBytes(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(sampleConfig), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 15*time.Second, cfg.HealthCheck.Interval)
	assert.Equal(t, "sqlite", cfg.Storage.Type)

	// Unset keys keep their defaults
	assert.Equal(t, "/health", cfg.HealthCheck.Path)
	assert.Equal(t, 100, cfg.HealthCheck.HistorySize)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.CircuitBreaker.RecoveryTimeout)
	assert.Equal(t, ":8013", cfg.API.Addr)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)

	require.Len(t, cfg.Services, 2)
	assert.Equal(t, []string{"http://localhost:8001", "http://localhost:8101"}, cfg.Services[0].URLs)
	assert.Equal(t, 2, cfg.Services[0].Weight)

	services, routes := config.Definitions(cfg)
	require.Len(t, services, 2)
	assert.Equal(t, "http://localhost:8001/healthz", services[0].HealthURL)

	require.Len(t, routes, 2)
	auth := routes[0]
	assert.Equal(t, types.StrategyRoundRobin, auth.Strategy)
	assert.Equal(t, types.DefaultRateLimit, auth.RateLimit)
	assert.Equal(t, 10*time.Second, auth.Timeout)
	assert.Equal(t, types.DefaultRetryCount, auth.RetryCount)
	assert.True(t, auth.CircuitBreakerEnabled)

	content := routes[1]
	assert.Equal(t, types.StrategyWeightedRoundRobin, content.Strategy)
	assert.Empty(t, content.RateLimit)
	assert.Equal(t, types.DefaultTimeout, content.Timeout)
	assert.Equal(t, 0, content.RetryCount)
	assert.False(t, content.CircuitBreakerEnabled)
}

func TestPlatformDefaults(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte("logging:\n  level: info\n"), "yaml")
	require.NoError(t, err)

	require.Len(t, cfg.Routes, 12)
	require.Len(t, cfg.Services, 12)
	assert.Equal(t, "memory", cfg.Storage.Type)

	_, routes := config.Definitions(cfg)
	byPattern := make(map[string]types.RouteRule, len(routes))
	for _, r := range routes {
		byPattern[r.Pattern] = r
	}

	admin := byPattern["/api/admin/"]
	assert.Equal(t, "naebak-admin-service", admin.ServiceName)
	assert.True(t, admin.AuthRequired)
	assert.True(t, admin.AdminOnly)
	assert.Equal(t, types.StrategyLeastConnections, admin.Strategy)
	assert.Equal(t, 15*time.Second, admin.Timeout)

	visitors := byPattern["/api/visitors/"]
	assert.Equal(t, types.StrategyRandom, visitors.Strategy)
	assert.Equal(t, 3*time.Second, visitors.Timeout)

	assert.Equal(t, types.StrategyWeightedRoundRobin, byPattern["/api/content/"].Strategy)
	assert.Equal(t, "http://localhost:8001", cfg.Services[0].URLs[0])
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("GATEWAY_LOGGING_LEVEL", "warn")
	t.Setenv("GATEWAY_API_ADDR", ":9100")
	t.Setenv("GATEWAY_SERVICE_URLS_AUTH", "http://10.0.0.1:8001, http://10.0.0.2:8001")

	cfg, err := config.LoadFromBytes([]byte(sampleConfig), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ":9100", cfg.API.Addr)
	assert.Equal(t, []string{"http://10.0.0.1:8001", "http://10.0.0.2:8001"}, cfg.Services[0].URLs)
	assert.Equal(t, []string{"http://localhost:8010"}, cfg.Services[1].URLs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "logging:\n  level: loud\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"bad storage type", "storage:\n  type: redis\n"},
		{"etcd without endpoints", "storage:\n  type: etcd\n"},
		{"probe timeout above interval", "health_check:\n  interval: 5s\n"},
		{"bad api addr", "api:\n  addr: nowhere\n"},
		{"zero history", "health_check:\n  history_size: 0\n"},
		{"service without urls", "services:\n  - name: a\n"},
		{"service with bad url", "services:\n  - name: a\n    urls: [\"localhost:1\"]\n"},
		{"duplicate service", "services:\n  - name: a\n    urls: [\"http://a:1\"]\n  - name: a\n    urls: [\"http://a:2\"]\n"},
		{"route to unknown service", "services:\n  - name: a\n    urls: [\"http://a:1\"]\nroutes:\n  - pattern: /x/\n    service: b\n"},
		{"route with bad pattern", "services:\n  - name: a\n    urls: [\"http://a:1\"]\nroutes:\n  - pattern: /*/*\n    service: a\n"},
		{"route with bad strategy", "services:\n  - name: a\n    urls: [\"http://a:1\"]\nroutes:\n  - pattern: /x/\n    service: a\n    strategy: fastest\n"},
		{"route with bad rate limit", "services:\n  - name: a\n    urls: [\"http://a:1\"]\nroutes:\n  - pattern: /x/\n    service: a\n    rate_limit: often\n"},
		{"duplicate route", "services:\n  - name: a\n    urls: [\"http://a:1\"]\nroutes:\n  - pattern: /x/\n    service: a\n  - pattern: /x/\n    service: a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromBytes([]byte(tt.yaml), "yaml")
			assert.ErrorIs(t, err, types.ErrInvalidConfiguration)
		})
	}
}

func TestLoader(t *testing.T) {
	t.Run("explicit file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gatewaycore.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

		loader := config.NewLoader(path, logging.Nop())
		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Len(t, cfg.Services, 2)
		assert.Equal(t, path, loader.ConfigFileUsed())
	})

	t.Run("missing explicit file", func(t *testing.T) {
		loader := config.NewLoader(filepath.Join(t.TempDir(), "absent.yaml"), nil)
		_, err := loader.Load()
		assert.Error(t, err)
	})
}

func TestWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatewaycore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))

	watcher, err := config.NewWatcher(config.NewLoader(path, logging.Nop()), logging.Nop())
	require.NoError(t, err)
	defer watcher.Stop()

	changes := make(chan *types.GatewayConfig, 4)
	watcher.OnChange(func(cfg *types.GatewayConfig) {
		select {
		case changes <- cfg:
		default:
		}
	})
	watcher.OnChange(func(*types.GatewayConfig) { panic("callback failure") })

	require.NoError(t, watcher.Start(context.Background()))
	require.Len(t, watcher.Config().Services, 2)

	updated := sampleConfig + "  - pattern: /api/extra/\n    service: content\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-changes:
		assert.Len(t, cfg.Routes, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	assert.Len(t, watcher.Config().Routes, 3)

	// An invalid file keeps the last good configuration
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  type: redis\n"), 0o644))
	time.Sleep(1500 * time.Millisecond)
	assert.Len(t, watcher.Config().Routes, 3)

	require.NoError(t, watcher.Stop())
	require.NoError(t, watcher.Stop())
}
