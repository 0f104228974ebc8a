// Package storage persists service definitions and route rules
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatewaycore/internal/circuit"
	"gatewaycore/internal/logging"
	"gatewaycore/internal/types"
)

// New opens the configured backend. Remote backends are wrapped in a
// breaker so an unreachable store fails fast.
func New(cfg types.StorageConfig, logger types.Logger) (types.Storage, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("component", "storage")

	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		store, err := NewSQLite(cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return NewGuarded(store, "sqlite", logger), nil
	case "etcd":
		store, err := NewEtcd(cfg.Endpoints, cfg.Prefix, logger)
		if err != nil {
			return nil, err
		}
		return NewGuarded(store, "etcd", logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage type %q", types.ErrInvalidConfiguration, cfg.Type)
	}
}

// guarded routes every call through a circuit.Guard
type guarded struct {
	next  types.Storage
	guard *circuit.Guard
}

// NewGuarded wraps store so that repeated backend failures open a breaker
// and further calls return types.ErrStorageUnavailable until it recovers
func NewGuarded(store types.Storage, name string, logger types.Logger) types.Storage {
	return &guarded{
		next: store,
		guard: circuit.NewGuard(circuit.GuardSettings{
			Name:             "storage-" + name,
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		}, logger),
	}
}

func (g *guarded) GetService(ctx context.Context, name string) (service *types.ServiceDefinition, err error) {
	err = g.guard.Execute(func() error {
		service, err = g.next.GetService(ctx, name)
		return err
	})
	return service, err
}

func (g *guarded) ListServices(ctx context.Context) (services []*types.ServiceDefinition, err error) {
	err = g.guard.Execute(func() error {
		services, err = g.next.ListServices(ctx)
		return err
	})
	return services, err
}

func (g *guarded) CreateService(ctx context.Context, service *types.ServiceDefinition) error {
	return g.guard.Execute(func() error {
		return g.next.CreateService(ctx, service)
	})
}

func (g *guarded) UpdateService(ctx context.Context, service *types.ServiceDefinition) error {
	return g.guard.Execute(func() error {
		return g.next.UpdateService(ctx, service)
	})
}

func (g *guarded) DeleteService(ctx context.Context, name string) error {
	return g.guard.Execute(func() error {
		return g.next.DeleteService(ctx, name)
	})
}

func (g *guarded) GetRoute(ctx context.Context, pattern string) (route *types.RouteRule, err error) {
	err = g.guard.Execute(func() error {
		route, err = g.next.GetRoute(ctx, pattern)
		return err
	})
	return route, err
}

func (g *guarded) ListRoutes(ctx context.Context) (routes []*types.RouteRule, err error) {
	err = g.guard.Execute(func() error {
		routes, err = g.next.ListRoutes(ctx)
		return err
	})
	return routes, err
}

func (g *guarded) CreateRoute(ctx context.Context, route *types.RouteRule) error {
	return g.guard.Execute(func() error {
		return g.next.CreateRoute(ctx, route)
	})
}

func (g *guarded) UpdateRoute(ctx context.Context, route *types.RouteRule) error {
	return g.guard.Execute(func() error {
		return g.next.UpdateRoute(ctx, route)
	})
}

func (g *guarded) DeleteRoute(ctx context.Context, pattern string) error {
	return g.guard.Execute(func() error {
		return g.next.DeleteRoute(ctx, pattern)
	})
}

func (g *guarded) Watch(ctx context.Context) <-chan types.StorageEvent {
	return g.next.Watch(ctx)
}

func (g *guarded) Close() error {
	return g.next.Close()
}

// Apply creates every given service and route, updating those the store
// already holds. Entries the store holds that are not given are left alone.
func Apply(ctx context.Context, store types.Storage, services []*types.ServiceDefinition, routes []types.RouteRule) error {
	var errs types.MultiError
	for _, service := range services {
		err := store.CreateService(ctx, service)
		if errors.Is(err, types.ErrAlreadyExists) {
			err = store.UpdateService(ctx, service)
		}
		errs.Add(err)
	}
	for i := range routes {
		err := store.CreateRoute(ctx, &routes[i])
		if errors.Is(err, types.ErrAlreadyExists) {
			err = store.UpdateRoute(ctx, &routes[i])
		}
		errs.Add(err)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}
