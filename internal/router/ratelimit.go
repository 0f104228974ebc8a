package router

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gatewaycore/internal/types"
)

// ParseRateLimit converts a "N/unit" spec into a token rate and burst.
// The unit is one of second, minute, hour or day. An empty spec means
// unlimited and yields rate.Inf.
func ParseRateLimit(spec string) (rate.Limit, int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return rate.Inf, 0, nil
	}

	countStr, unit, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", types.ErrInvalidRateLimit, spec)
	}

	count, err := strconv.Atoi(strings.TrimSpace(countStr))
	if err != nil || count <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", types.ErrInvalidRateLimit, spec)
	}

	var period time.Duration
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), "s") {
	case "second":
		period = time.Second
	case "minute":
		period = time.Minute
	case "hour":
		period = time.Hour
	case "day":
		period = 24 * time.Hour
	default:
		return 0, 0, fmt.Errorf("%w: unknown unit in %q", types.ErrInvalidRateLimit, spec)
	}

	return rate.Every(period / time.Duration(count)), count, nil
}

// limiterEntry wraps a rate limiter with last access time
type limiterEntry struct {
	limiter    *rate.Limiter
	spec       string
	lastAccess time.Time
	mu         sync.Mutex
}

// LimiterOptions configures a Limiter
type LimiterOptions struct {
	// TTL drops limiters idle for longer than this
	TTL time.Duration
	// CleanupInterval is how often idle limiters are swept
	CleanupInterval time.Duration
	// Now overrides the clock
	Now func() time.Time
}

// Limiter enforces per-route rate limits, one token bucket per route and
// client address
type Limiter struct {
	limiters map[string]*limiterEntry
	mu       sync.RWMutex
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLimiter creates a limiter and starts its cleanup goroutine
func NewLimiter(opts LimiterOptions) *Limiter {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Limiter{
		limiters: make(map[string]*limiterEntry),
		ttl:      opts.TTL,
		interval: opts.CleanupInterval,
		now:      opts.Now,
		stopCh:   make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanup()

	return l
}

// Allow takes one token for the route identified by pattern. An empty
// spec always allows. A changed spec for a known key starts a fresh bucket.
func (l *Limiter) Allow(pattern, spec, clientIP string) (bool, error) {
	limit, burst, err := ParseRateLimit(spec)
	if err != nil {
		return false, err
	}
	if limit == rate.Inf {
		return true, nil
	}

	now := l.now()
	entry := l.getEntry(limiterKey(pattern, clientIP), spec, limit, burst, now)
	return entry.limiter.AllowN(now, 1), nil
}

// Forget drops every bucket that belongs to pattern
func (l *Limiter) Forget(pattern string) {
	prefix := pattern + "|"
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.limiters {
		if strings.HasPrefix(key, prefix) {
			delete(l.limiters, key)
		}
	}
}

// Len returns the number of live buckets
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}

func limiterKey(pattern, clientIP string) string {
	return pattern + "|" + clientIP
}

// getEntry returns the bucket for key, creating it when missing or when
// its spec changed
func (l *Limiter) getEntry(key, spec string, limit rate.Limit, burst int, now time.Time) *limiterEntry {
	l.mu.RLock()
	entry, exists := l.limiters[key]
	l.mu.RUnlock()

	if exists && entry.touch(spec, now) {
		return entry
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check
	if entry, exists := l.limiters[key]; exists && entry.touch(spec, now) {
		return entry
	}

	entry = &limiterEntry{
		limiter:    rate.NewLimiter(limit, burst),
		spec:       spec,
		lastAccess: now,
	}
	l.limiters[key] = entry
	return entry
}

// touch refreshes the access time and reports whether the entry still
// serves spec
func (e *limiterEntry) touch(spec string, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.spec != spec {
		return false
	}
	e.lastAccess = now
	return true
}

// cleanup periodically removes unused limiters
func (l *Limiter) cleanup() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupStale()
		case <-l.stopCh:
			return
		}
	}
}

// cleanupStale removes limiters that haven't been accessed recently
func (l *Limiter) cleanupStale() {
	now := l.now()
	expiredKeys := make([]string, 0)

	// First pass: identify expired entries
	l.mu.RLock()
	for key, entry := range l.limiters {
		entry.mu.Lock()
		if now.Sub(entry.lastAccess) > l.ttl {
			expiredKeys = append(expiredKeys, key)
		}
		entry.mu.Unlock()
	}
	l.mu.RUnlock()

	if len(expiredKeys) == 0 {
		return
	}

	// Second pass: remove entries still expired under the write lock
	l.mu.Lock()
	for _, key := range expiredKeys {
		if entry, exists := l.limiters[key]; exists {
			entry.mu.Lock()
			if now.Sub(entry.lastAccess) > l.ttl {
				delete(l.limiters, key)
			}
			entry.mu.Unlock()
		}
	}
	l.mu.Unlock()
}

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()
}
