package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"gatewaycore/internal/types"
)

const watchBuffer = 100

// broadcaster fans storage events out to watchers. A full watcher drops
// events rather than blocking writers.
type broadcaster struct {
	mu       sync.RWMutex
	watchers []chan types.StorageEvent
	logger   types.Logger
	closed   bool
}

func (b *broadcaster) watch(ctx context.Context) <-chan types.StorageEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan types.StorageEvent, watchBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.watchers = append(b.watchers, ch)

	go func() {
		<-ctx.Done()
		b.remove(ch)
	}()

	return ch
}

func (b *broadcaster) remove(ch chan types.StorageEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, watcher := range b.watchers {
		if watcher == ch {
			b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *broadcaster) notify(event types.StorageEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, watcher := range b.watchers {
		select {
		case watcher <- event:
		default:
			if b.logger != nil {
				b.logger.Warn("storage event dropped", "type", event.Type, "kind", event.Kind, "id", event.ID)
			}
		}
	}
}

// close releases every watcher channel
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, watcher := range b.watchers {
		close(watcher)
	}
	b.watchers = nil
	b.closed = true
}

func validateService(service *types.ServiceDefinition) error {
	if service == nil || strings.TrimSpace(service.Name) == "" {
		return types.ErrInvalidRequest
	}
	return nil
}

func validateRoute(route *types.RouteRule) error {
	if route == nil || strings.TrimSpace(route.Pattern) == "" || route.ServiceName == "" {
		return types.ErrInvalidRequest
	}
	return nil
}

func cloneService(s *types.ServiceDefinition) *types.ServiceDefinition {
	c := *s
	c.Endpoints = append([]string(nil), s.Endpoints...)
	c.Metadata = cloneMap(s.Metadata)
	return &c
}

func cloneRoute(r *types.RouteRule) *types.RouteRule {
	c := *r
	c.RequestTransform = cloneMap(r.RequestTransform)
	c.ResponseTransform = cloneMap(r.ResponseTransform)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortServices(services []*types.ServiceDefinition) {
	sort.Slice(services, func(i, j int) bool {
		return services[i].Name < services[j].Name
	})
}
