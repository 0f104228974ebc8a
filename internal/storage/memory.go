package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gatewaycore/internal/types"
)

// memoryStorage implements Storage interface using in-memory maps
type memoryStorage struct {
	mu         sync.RWMutex
	services   map[string]*types.ServiceDefinition
	routes     map[string]*types.RouteRule
	routeOrder []string // patterns in creation order
	events     broadcaster
}

// NewMemory creates a new in-memory storage instance
func NewMemory() types.Storage {
	return &memoryStorage{
		services: make(map[string]*types.ServiceDefinition),
		routes:   make(map[string]*types.RouteRule),
	}
}

// Services implementation

func (m *memoryStorage) GetService(ctx context.Context, name string) (*types.ServiceDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	service, exists := m.services[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", types.ErrServiceNotFound, name)
	}

	// Return a copy to prevent external modifications
	return cloneService(service), nil
}

func (m *memoryStorage) ListServices(ctx context.Context) ([]*types.ServiceDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	services := make([]*types.ServiceDefinition, 0, len(m.services))
	for _, service := range m.services {
		services = append(services, cloneService(service))
	}
	sortServices(services)

	return services, nil
}

func (m *memoryStorage) CreateService(ctx context.Context, service *types.ServiceDefinition) error {
	if err := validateService(service); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.services[service.Name]; exists {
		return fmt.Errorf("%w: service %s", types.ErrAlreadyExists, service.Name)
	}

	// Set timestamps
	now := time.Now()
	service.CreatedAt = now
	service.UpdatedAt = now

	stored := cloneService(service)
	m.services[service.Name] = stored

	m.notifyWatchers(types.StorageEvent{
		Type:   types.EventCreated,
		Kind:   types.KindService,
		ID:     service.Name,
		Object: cloneService(stored),
	})

	return nil
}

func (m *memoryStorage) UpdateService(ctx context.Context, service *types.ServiceDefinition) error {
	if err := validateService(service); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.services[service.Name]
	if !exists {
		return fmt.Errorf("%w: %s", types.ErrServiceNotFound, service.Name)
	}

	// Preserve creation timestamp
	service.CreatedAt = existing.CreatedAt
	service.UpdatedAt = time.Now()

	stored := cloneService(service)
	m.services[service.Name] = stored

	m.notifyWatchers(types.StorageEvent{
		Type:   types.EventUpdated,
		Kind:   types.KindService,
		ID:     service.Name,
		Object: cloneService(stored),
	})

	return nil
}

func (m *memoryStorage) DeleteService(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	service, exists := m.services[name]
	if !exists {
		return fmt.Errorf("%w: %s", types.ErrServiceNotFound, name)
	}

	delete(m.services, name)

	m.notifyWatchers(types.StorageEvent{
		Type:   types.EventDeleted,
		Kind:   types.KindService,
		ID:     name,
		Object: service,
	})

	return nil
}

// Routes implementation

func (m *memoryStorage) GetRoute(ctx context.Context, pattern string) (*types.RouteRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	route, exists := m.routes[pattern]
	if !exists {
		return nil, fmt.Errorf("%w: %s", types.ErrRouteNotFound, pattern)
	}

	return cloneRoute(route), nil
}

func (m *memoryStorage) ListRoutes(ctx context.Context) ([]*types.RouteRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	routes := make([]*types.RouteRule, 0, len(m.routeOrder))
	for _, pattern := range m.routeOrder {
		routes = append(routes, cloneRoute(m.routes[pattern]))
	}

	return routes, nil
}

func (m *memoryStorage) CreateRoute(ctx context.Context, route *types.RouteRule) error {
	if err := validateRoute(route); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.routes[route.Pattern]; exists {
		return fmt.Errorf("%w: route %s", types.ErrAlreadyExists, route.Pattern)
	}

	// Validate that the service exists
	if _, exists := m.services[route.ServiceName]; !exists {
		return fmt.Errorf("%w: %s referenced by route %s", types.ErrServiceNotFound, route.ServiceName, route.Pattern)
	}

	stored := cloneRoute(route)
	m.routes[route.Pattern] = stored
	m.routeOrder = append(m.routeOrder, route.Pattern)

	m.notifyWatchers(types.StorageEvent{
		Type:   types.EventCreated,
		Kind:   types.KindRoute,
		ID:     route.Pattern,
		Object: cloneRoute(stored),
	})

	return nil
}

func (m *memoryStorage) UpdateRoute(ctx context.Context, route *types.RouteRule) error {
	if err := validateRoute(route); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.routes[route.Pattern]; !exists {
		return fmt.Errorf("%w: %s", types.ErrRouteNotFound, route.Pattern)
	}

	if _, exists := m.services[route.ServiceName]; !exists {
		return fmt.Errorf("%w: %s referenced by route %s", types.ErrServiceNotFound, route.ServiceName, route.Pattern)
	}

	stored := cloneRoute(route)
	m.routes[route.Pattern] = stored

	m.notifyWatchers(types.StorageEvent{
		Type:   types.EventUpdated,
		Kind:   types.KindRoute,
		ID:     route.Pattern,
		Object: cloneRoute(stored),
	})

	return nil
}

func (m *memoryStorage) DeleteRoute(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	route, exists := m.routes[pattern]
	if !exists {
		return fmt.Errorf("%w: %s", types.ErrRouteNotFound, pattern)
	}

	delete(m.routes, pattern)
	for i, p := range m.routeOrder {
		if p == pattern {
			m.routeOrder = append(m.routeOrder[:i], m.routeOrder[i+1:]...)
			break
		}
	}

	m.notifyWatchers(types.StorageEvent{
		Type:   types.EventDeleted,
		Kind:   types.KindRoute,
		ID:     pattern,
		Object: route,
	})

	return nil
}

// Watch implementation

func (m *memoryStorage) Watch(ctx context.Context) <-chan types.StorageEvent {
	return m.events.watch(ctx)
}

func (m *memoryStorage) notifyWatchers(event types.StorageEvent) {
	m.events.notify(event)
}

// Close closes the storage
func (m *memoryStorage) Close() error {
	m.events.close()
	return nil
}
