package circuit_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewaycore/internal/circuit"
	"gatewaycore/internal/types"
)

func result(service string, status types.HealthStatus, ms int, i int) types.HealthCheckResult {
	return types.HealthCheckResult{
		ServiceName:  service,
		Status:       status,
		ResponseTime: time.Duration(ms) * time.Millisecond,
		Timestamp:    time.Unix(int64(i), 0),
		ErrorMessage: fmt.Sprint(i),
	}
}

func TestHistoryBound(t *testing.T) {
	h := circuit.NewHistory(100)

	for i := 0; i < 150; i++ {
		h.Append(result("auth", types.HealthStatusHealthy, 1, i))
	}

	assert.Equal(t, 100, h.Len("auth"))

	all := h.Recent("auth", 100)
	require.Len(t, all, 100)
	assert.Equal(t, "50", all[0].ErrorMessage)
	assert.Equal(t, "149", all[99].ErrorMessage)

	latest, ok := h.Latest("auth")
	require.True(t, ok)
	assert.Equal(t, "149", latest.ErrorMessage)
}

func TestHistoryRecent(t *testing.T) {
	h := circuit.NewHistory(0)
	assert.Equal(t, circuit.DefaultHistorySize, h.Capacity())

	for i := 0; i < 80; i++ {
		h.Append(result("news", types.HealthStatusHealthy, 1, i))
	}

	t.Run("default limit", func(t *testing.T) {
		got := h.Recent("news", 0)
		assert.Len(t, got, circuit.DefaultHistoryLimit)
		assert.Equal(t, "79", got[len(got)-1].ErrorMessage)
	})

	t.Run("limit capped by capacity", func(t *testing.T) {
		assert.Len(t, h.Recent("news", 500), 80)
	})

	t.Run("unknown service", func(t *testing.T) {
		got := h.Recent("missing", 10)
		assert.NotNil(t, got)
		assert.Empty(t, got)
		_, ok := h.Latest("missing")
		assert.False(t, ok)
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		got := h.Recent("news", 1)
		got[0].ErrorMessage = "mutated"
		latest, _ := h.Latest("news")
		assert.Equal(t, "79", latest.ErrorMessage)
	})
}

func TestHistoryAverageResponseTime(t *testing.T) {
	h := circuit.NewHistory(100)

	_, ok := h.AverageResponseTime("auth")
	assert.False(t, ok)

	// Older healthy entries outside the newest ten are ignored
	for i := 0; i < 5; i++ {
		h.Append(result("auth", types.HealthStatusHealthy, 1000, i))
	}
	for i := 0; i < 6; i++ {
		h.Append(result("auth", types.HealthStatusHealthy, 10, i))
	}
	for i := 0; i < 4; i++ {
		h.Append(result("auth", types.HealthStatusUnhealthy, 5000, i))
	}

	avg, ok := h.AverageResponseTime("auth")
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, avg)

	for i := 0; i < 10; i++ {
		h.Append(result("auth", types.HealthStatusUnhealthy, 1, i))
	}
	_, ok = h.AverageResponseTime("auth")
	assert.False(t, ok)

	assert.Equal(t, []string{"auth"}, h.Services())
}
