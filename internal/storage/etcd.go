package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"gatewaycore/internal/types"
)

// DefaultEtcdPrefix is the key prefix used when none is configured
const DefaultEtcdPrefix = "/gatewaycore"

// etcdStorage implements Storage interface using etcd. Change events come
// from an etcd watch on the prefix, so writes by other gateway processes
// are observed as well.
type etcdStorage struct {
	client *clientv3.Client
	prefix string
	logger types.Logger
	events broadcaster

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEtcd creates a new etcd storage instance
func NewEtcd(endpoints []string, prefix string, logger types.Logger) (types.Storage, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &etcdStorage{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		logger: logger,
		events: broadcaster{logger: logger},
		cancel: cancel,
	}

	// Start watching for changes
	s.wg.Add(1)
	go s.watchChanges(ctx)

	return s, nil
}

// Services

func (s *etcdStorage) GetService(ctx context.Context, name string) (*types.ServiceDefinition, error) {
	resp, err := s.client.Get(ctx, s.serviceKey(name))
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrServiceNotFound, name)
	}

	var service types.ServiceDefinition
	if err := json.Unmarshal(resp.Kvs[0].Value, &service); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service: %w", err)
	}

	return &service, nil
}

func (s *etcdStorage) ListServices(ctx context.Context) ([]*types.ServiceDefinition, error) {
	resp, err := s.client.Get(ctx, s.prefix+"/services/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}

	services := make([]*types.ServiceDefinition, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var service types.ServiceDefinition
		if err := json.Unmarshal(kv.Value, &service); err != nil {
			s.logger.Warn("skipping invalid service entry", "key", string(kv.Key), "error", err)
			continue
		}
		services = append(services, &service)
	}
	sortServices(services)

	return services, nil
}

func (s *etcdStorage) CreateService(ctx context.Context, service *types.ServiceDefinition) error {
	if err := validateService(service); err != nil {
		return err
	}

	now := time.Now().UTC()
	service.CreatedAt = now
	service.UpdatedAt = now

	created, err := s.putIf(ctx, s.serviceKey(service.Name), service, false)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: service %s", types.ErrAlreadyExists, service.Name)
	}
	return nil
}

func (s *etcdStorage) UpdateService(ctx context.Context, service *types.ServiceDefinition) error {
	if err := validateService(service); err != nil {
		return err
	}

	existing, err := s.GetService(ctx, service.Name)
	if err != nil {
		return err
	}
	service.CreatedAt = existing.CreatedAt
	service.UpdatedAt = time.Now().UTC()

	updated, err := s.putIf(ctx, s.serviceKey(service.Name), service, true)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	if !updated {
		return fmt.Errorf("%w: %s", types.ErrServiceNotFound, service.Name)
	}
	return nil
}

func (s *etcdStorage) DeleteService(ctx context.Context, name string) error {
	resp, err := s.client.Delete(ctx, s.serviceKey(name))
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	if resp.Deleted == 0 {
		return fmt.Errorf("%w: %s", types.ErrServiceNotFound, name)
	}
	return nil
}

// Routes

func (s *etcdStorage) GetRoute(ctx context.Context, pattern string) (*types.RouteRule, error) {
	resp, err := s.client.Get(ctx, s.routeKey(pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrRouteNotFound, pattern)
	}

	var route types.RouteRule
	if err := json.Unmarshal(resp.Kvs[0].Value, &route); err != nil {
		return nil, fmt.Errorf("failed to unmarshal route: %w", err)
	}

	return &route, nil
}

// ListRoutes returns routes in creation order
func (s *etcdStorage) ListRoutes(ctx context.Context) ([]*types.RouteRule, error) {
	resp, err := s.client.Get(ctx, s.prefix+"/routes/",
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	routes := make([]*types.RouteRule, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var route types.RouteRule
		if err := json.Unmarshal(kv.Value, &route); err != nil {
			s.logger.Warn("skipping invalid route entry", "key", string(kv.Key), "error", err)
			continue
		}
		routes = append(routes, &route)
	}

	return routes, nil
}

func (s *etcdStorage) CreateRoute(ctx context.Context, route *types.RouteRule) error {
	if err := validateRoute(route); err != nil {
		return err
	}
	if _, err := s.GetService(ctx, route.ServiceName); err != nil {
		return err
	}

	created, err := s.putIf(ctx, s.routeKey(route.Pattern), route, false)
	if err != nil {
		return fmt.Errorf("failed to create route: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: route %s", types.ErrAlreadyExists, route.Pattern)
	}
	return nil
}

func (s *etcdStorage) UpdateRoute(ctx context.Context, route *types.RouteRule) error {
	if err := validateRoute(route); err != nil {
		return err
	}
	if _, err := s.GetService(ctx, route.ServiceName); err != nil {
		return err
	}

	updated, err := s.putIf(ctx, s.routeKey(route.Pattern), route, true)
	if err != nil {
		return fmt.Errorf("failed to update route: %w", err)
	}
	if !updated {
		return fmt.Errorf("%w: %s", types.ErrRouteNotFound, route.Pattern)
	}
	return nil
}

func (s *etcdStorage) DeleteRoute(ctx context.Context, pattern string) error {
	resp, err := s.client.Delete(ctx, s.routeKey(pattern))
	if err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}
	if resp.Deleted == 0 {
		return fmt.Errorf("%w: %s", types.ErrRouteNotFound, pattern)
	}
	return nil
}

// putIf writes value under key in a transaction that requires the key to
// exist (update) or to be absent (create). It reports whether the write
// happened.
func (s *etcdStorage) putIf(ctx context.Context, key string, value any, mustExist bool) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal: %w", err)
	}

	cmp := clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
	if mustExist {
		cmp = clientv3.Compare(clientv3.CreateRevision(key), ">", 0)
	}

	resp, err := s.client.Txn(ctx).
		If(cmp).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

// Watch implementation

func (s *etcdStorage) Watch(ctx context.Context) <-chan types.StorageEvent {
	return s.events.watch(ctx)
}

// watchChanges watches etcd for changes
func (s *etcdStorage) watchChanges(ctx context.Context) {
	defer s.wg.Done()

	watchChan := s.client.Watch(ctx, s.prefix+"/", clientv3.WithPrefix())

	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-watchChan:
			if !ok {
				return
			}
			if err := resp.Err(); err != nil {
				s.logger.Error("etcd watch error", "error", err)
				continue
			}
			for _, event := range resp.Events {
				s.handleWatchEvent(event)
			}
		}
	}
}

// handleWatchEvent processes a watch event
func (s *etcdStorage) handleWatchEvent(event *clientv3.Event) {
	var eventType string
	switch event.Type {
	case clientv3.EventTypePut:
		if event.IsCreate() {
			eventType = types.EventCreated
		} else {
			eventType = types.EventUpdated
		}
	case clientv3.EventTypeDelete:
		eventType = types.EventDeleted
	default:
		return
	}

	kind, id, ok := s.parseKey(string(event.Kv.Key))
	if !ok {
		return
	}

	var object interface{}
	if eventType != types.EventDeleted {
		switch kind {
		case types.KindService:
			var service types.ServiceDefinition
			if err := json.Unmarshal(event.Kv.Value, &service); err != nil {
				s.logger.Warn("ignoring invalid service event", "id", id, "error", err)
				return
			}
			object = &service
		case types.KindRoute:
			var route types.RouteRule
			if err := json.Unmarshal(event.Kv.Value, &route); err != nil {
				s.logger.Warn("ignoring invalid route event", "id", id, "error", err)
				return
			}
			object = &route
		}
	}

	s.events.notify(types.StorageEvent{
		Type:   eventType,
		Kind:   kind,
		ID:     id,
		Object: object,
	})
}

// Close closes the etcd connection
func (s *etcdStorage) Close() error {
	s.cancel()
	s.wg.Wait()
	s.events.close()
	return s.client.Close()
}

// Helper methods

// Route patterns contain slashes, so both kinds of name are path-escaped
func (s *etcdStorage) serviceKey(name string) string {
	return fmt.Sprintf("%s/services/%s", s.prefix, url.PathEscape(name))
}

func (s *etcdStorage) routeKey(pattern string) string {
	return fmt.Sprintf("%s/routes/%s", s.prefix, url.PathEscape(pattern))
}

func (s *etcdStorage) parseKey(key string) (kind, id string, ok bool) {
	rest, found := strings.CutPrefix(key, s.prefix+"/")
	if !found {
		return "", "", false
	}

	section, escaped, found := strings.Cut(rest, "/")
	if !found {
		return "", "", false
	}
	name, err := url.PathUnescape(escaped)
	if err != nil {
		return "", "", false
	}

	switch section {
	case "services":
		return types.KindService, name, true
	case "routes":
		return types.KindRoute, name, true
	}
	return "", "", false
}
