package circuit

import (
	"sort"
	"sync"
	"time"

	"gatewaycore/internal/types"
)

const (
	// DefaultHistorySize is the per-service probe history capacity
	DefaultHistorySize = 100

	// DefaultHistoryLimit is returned when a caller asks for no specific limit
	DefaultHistoryLimit = 50

	// averageWindow is how many recent entries feed the response time average
	averageWindow = 10
)

// History keeps a bounded, oldest-first probe history per service
type History struct {
	capacity int

	mu      sync.RWMutex
	buckets map[string]*historyBucket
}

type historyBucket struct {
	mu      sync.Mutex
	results []types.HealthCheckResult
}

// NewHistory creates a history holding at most capacity results per service
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{
		capacity: capacity,
		buckets:  make(map[string]*historyBucket),
	}
}

// Capacity returns the per-service bound
func (h *History) Capacity() int {
	return h.capacity
}

func (h *History) bucket(service string, create bool) *historyBucket {
	h.mu.RLock()
	b, ok := h.buckets[service]
	h.mu.RUnlock()
	if ok || !create {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.buckets[service]; ok {
		return b
	}
	b = &historyBucket{results: make([]types.HealthCheckResult, 0, h.capacity)}
	h.buckets[service] = b
	return b
}

// Append records a result, evicting the oldest entries past capacity
func (h *History) Append(result types.HealthCheckResult) {
	b := h.bucket(result.ServiceName, true)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.results = append(b.results, result)
	if over := len(b.results) - h.capacity; over > 0 {
		n := copy(b.results, b.results[over:])
		clear(b.results[n:])
		b.results = b.results[:n]
	}
}

// Latest returns the newest result for service
func (h *History) Latest(service string) (types.HealthCheckResult, bool) {
	b := h.bucket(service, false)
	if b == nil {
		return types.HealthCheckResult{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.results) == 0 {
		return types.HealthCheckResult{}, false
	}
	return b.results[len(b.results)-1], true
}

// Recent returns up to limit of the newest results, oldest first.
// A limit of zero or less selects DefaultHistoryLimit.
func (h *History) Recent(service string, limit int) []types.HealthCheckResult {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > h.capacity {
		limit = h.capacity
	}

	b := h.bucket(service, false)
	if b == nil {
		return []types.HealthCheckResult{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := len(b.results) - limit
	if start < 0 {
		start = 0
	}
	out := make([]types.HealthCheckResult, len(b.results)-start)
	copy(out, b.results[start:])
	return out
}

// Len returns the number of results held for service
func (h *History) Len(service string) int {
	b := h.bucket(service, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.results)
}

// AverageResponseTime averages the healthy entries among the newest ten
func (h *History) AverageResponseTime(service string) (time.Duration, bool) {
	b := h.bucket(service, false)
	if b == nil {
		return 0, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := len(b.results) - averageWindow
	if start < 0 {
		start = 0
	}

	var total time.Duration
	var count int
	for _, r := range b.results[start:] {
		if r.Status == types.HealthStatusHealthy {
			total += r.ResponseTime
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return total / time.Duration(count), true
}

// Services returns the names with recorded history, sorted
func (h *History) Services() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.buckets))
	for name := range h.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
