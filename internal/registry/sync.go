package registry

import (
	"context"
	"fmt"

	"gatewaycore/internal/types"
)

// Load registers every service and route held by store
func (r *Registry) Load(ctx context.Context, store types.Storage) error {
	services, err := store.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}

	var errs types.MultiError
	for _, def := range services {
		errs.Add(r.RegisterService(def))
	}

	routes, err := store.ListRoutes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list routes: %w", err)
	}
	for _, rule := range routes {
		errs.Add(r.RegisterRoute(rule.Pattern, *rule))
	}

	r.logger.Info("loaded definitions from storage",
		"services", len(services),
		"routes", len(routes),
		"errors", len(errs.Errors),
	)
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Sync loads the store and then applies its change events until ctx is
// done or the watch channel closes
func (r *Registry) Sync(ctx context.Context, store types.Storage) error {
	// Subscribe first so no change between the load and the watch is lost
	events := store.Watch(ctx)

	if err := r.Load(ctx, store); err != nil {
		r.logger.Error("initial load had errors", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.apply(event); err != nil {
				r.logger.Error("failed to apply storage event",
					"kind", event.Kind,
					"type", event.Type,
					"id", event.ID,
					"error", err,
				)
			}
		}
	}
}

func (r *Registry) apply(event types.StorageEvent) error {
	switch event.Kind {
	case types.KindService:
		if event.Type == types.EventDeleted {
			r.RemoveService(event.ID)
			return nil
		}
		def, ok := event.Object.(*types.ServiceDefinition)
		if !ok {
			return fmt.Errorf("%w: service event carries %T", types.ErrInvalidRequest, event.Object)
		}
		return r.RegisterService(def)

	case types.KindRoute:
		if event.Type == types.EventDeleted {
			r.RemoveRoute(event.ID)
			return nil
		}
		rule, ok := event.Object.(*types.RouteRule)
		if !ok {
			return fmt.Errorf("%w: route event carries %T", types.ErrInvalidRequest, event.Object)
		}
		return r.RegisterRoute(rule.Pattern, *rule)
	}
	return fmt.Errorf("%w: unknown event kind %q", types.ErrInvalidRequest, event.Kind)
}
