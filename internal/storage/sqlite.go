package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"gatewaycore/internal/types"
)

// DefaultSQLiteDSN is used when no DSN is configured
const DefaultSQLiteDSN = "gatewaycore.db"

// sqliteStorage implements Storage interface using SQLite
type sqliteStorage struct {
	db     *sql.DB
	logger types.Logger
	events broadcaster
}

// NewSQLite creates a new SQLite storage instance
func NewSQLite(dsn string, logger types.Logger) (types.Storage, error) {
	if dsn == "" {
		dsn = DefaultSQLiteDSN
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &sqliteStorage{
		db:     db,
		logger: logger,
		events: broadcaster{logger: logger},
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *sqliteStorage) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS services (
			name TEXT PRIMARY KEY,
			endpoints TEXT NOT NULL,
			health_url TEXT NOT NULL DEFAULT '',
			weight INTEGER DEFAULT 1,
			version TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT 'null',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS routes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pattern TEXT NOT NULL UNIQUE,
			service_name TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT 'round_robin',
			auth_required BOOLEAN DEFAULT FALSE,
			admin_only BOOLEAN DEFAULT FALSE,
			rate_limit TEXT NOT NULL DEFAULT '',
			timeout INTEGER DEFAULT 30000,
			retry_count INTEGER DEFAULT 3,
			circuit_breaker BOOLEAN DEFAULT TRUE,
			canary_percentage REAL DEFAULT 0,
			request_transform TEXT NOT NULL DEFAULT 'null',
			response_transform TEXT NOT NULL DEFAULT 'null'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_routes_service ON routes(service_name)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}

// isConstraint reports a primary key or unique violation
func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// Services implementation

const serviceColumns = `name, endpoints, health_url, weight, version, metadata, created_at, updated_at`

func scanService(row rowScanner) (*types.ServiceDefinition, error) {
	var service types.ServiceDefinition
	var endpoints, metadata string

	err := row.Scan(
		&service.Name, &endpoints, &service.HealthURL, &service.Weight,
		&service.Version, &metadata, &service.CreatedAt, &service.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Unmarshal JSON fields
	if err := json.Unmarshal([]byte(endpoints), &service.Endpoints); err != nil {
		return nil, fmt.Errorf("failed to unmarshal endpoints: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &service.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &service, nil
}

func (s *sqliteStorage) GetService(ctx context.Context, name string) (*types.ServiceDefinition, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE name = ?`

	service, err := scanService(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrServiceNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return service, nil
}

func (s *sqliteStorage) ListServices(ctx context.Context) ([]*types.ServiceDefinition, error) {
	query := `SELECT ` + serviceColumns + ` FROM services ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	services := make([]*types.ServiceDefinition, 0)
	for rows.Next() {
		service, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, service)
	}

	return services, rows.Err()
}

func marshalService(service *types.ServiceDefinition) (string, string, error) {
	endpoints, err := json.Marshal(service.Endpoints)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal endpoints: %w", err)
	}
	metadata, err := json.Marshal(service.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(endpoints), string(metadata), nil
}

func (s *sqliteStorage) CreateService(ctx context.Context, service *types.ServiceDefinition) error {
	if err := validateService(service); err != nil {
		return err
	}

	endpoints, metadata, err := marshalService(service)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	service.CreatedAt = now
	service.UpdatedAt = now

	query := `INSERT INTO services (` + serviceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		service.Name, endpoints, service.HealthURL, service.Weight,
		service.Version, metadata, service.CreatedAt, service.UpdatedAt,
	)
	if isConstraint(err) {
		return fmt.Errorf("%w: service %s", types.ErrAlreadyExists, service.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	s.events.notify(types.StorageEvent{
		Type:   types.EventCreated,
		Kind:   types.KindService,
		ID:     service.Name,
		Object: cloneService(service),
	})

	return nil
}

func (s *sqliteStorage) UpdateService(ctx context.Context, service *types.ServiceDefinition) error {
	if err := validateService(service); err != nil {
		return err
	}

	endpoints, metadata, err := marshalService(service)
	if err != nil {
		return err
	}

	service.UpdatedAt = time.Now().UTC()

	query := `UPDATE services SET endpoints = ?, health_url = ?, weight = ?, version = ?,
	          metadata = ?, updated_at = ? WHERE name = ?`

	result, err := s.db.ExecContext(ctx, query,
		endpoints, service.HealthURL, service.Weight, service.Version,
		metadata, service.UpdatedAt, service.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", types.ErrServiceNotFound, service.Name)
	}

	stored, err := s.GetService(ctx, service.Name)
	if err != nil {
		return err
	}
	service.CreatedAt = stored.CreatedAt

	s.events.notify(types.StorageEvent{
		Type:   types.EventUpdated,
		Kind:   types.KindService,
		ID:     service.Name,
		Object: stored,
	})

	return nil
}

func (s *sqliteStorage) DeleteService(ctx context.Context, name string) error {
	// Get service before deletion for event
	service, err := s.GetService(ctx, name)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM services WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}

	s.events.notify(types.StorageEvent{
		Type:   types.EventDeleted,
		Kind:   types.KindService,
		ID:     name,
		Object: service,
	})

	return nil
}

// Routes implementation

const routeColumns = `pattern, service_name, strategy, auth_required, admin_only, rate_limit,
	timeout, retry_count, circuit_breaker, canary_percentage, request_transform, response_transform`

func scanRoute(row rowScanner) (*types.RouteRule, error) {
	var route types.RouteRule
	var strategy, requestTransform, responseTransform string
	var timeout int64

	err := row.Scan(
		&route.Pattern, &route.ServiceName, &strategy, &route.AuthRequired,
		&route.AdminOnly, &route.RateLimit, &timeout, &route.RetryCount,
		&route.CircuitBreakerEnabled, &route.CanaryPercentage,
		&requestTransform, &responseTransform,
	)
	if err != nil {
		return nil, err
	}

	route.Strategy = types.Strategy(strategy)
	route.Timeout = time.Duration(timeout) * time.Millisecond

	if err := json.Unmarshal([]byte(requestTransform), &route.RequestTransform); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request transform: %w", err)
	}
	if err := json.Unmarshal([]byte(responseTransform), &route.ResponseTransform); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response transform: %w", err)
	}

	return &route, nil
}

func marshalTransforms(route *types.RouteRule) (string, string, error) {
	request, err := json.Marshal(route.RequestTransform)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal request transform: %w", err)
	}
	response, err := json.Marshal(route.ResponseTransform)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal response transform: %w", err)
	}
	return string(request), string(response), nil
}

func (s *sqliteStorage) GetRoute(ctx context.Context, pattern string) (*types.RouteRule, error) {
	query := `SELECT ` + routeColumns + ` FROM routes WHERE pattern = ?`

	route, err := scanRoute(s.db.QueryRowContext(ctx, query, pattern))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrRouteNotFound, pattern)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route: %w", err)
	}
	return route, nil
}

// ListRoutes returns routes in creation order
func (s *sqliteStorage) ListRoutes(ctx context.Context) ([]*types.RouteRule, error) {
	query := `SELECT ` + routeColumns + ` FROM routes ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	defer rows.Close()

	routes := make([]*types.RouteRule, 0)
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, route)
	}

	return routes, rows.Err()
}

func (s *sqliteStorage) serviceExists(ctx context.Context, name string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM services WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", types.ErrServiceNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to check service: %w", err)
	}
	return nil
}

func (s *sqliteStorage) CreateRoute(ctx context.Context, route *types.RouteRule) error {
	if err := validateRoute(route); err != nil {
		return err
	}
	if err := s.serviceExists(ctx, route.ServiceName); err != nil {
		return err
	}

	requestTransform, responseTransform, err := marshalTransforms(route)
	if err != nil {
		return err
	}

	query := `INSERT INTO routes (` + routeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		route.Pattern, route.ServiceName, string(route.Strategy), route.AuthRequired,
		route.AdminOnly, route.RateLimit, route.Timeout.Milliseconds(), route.RetryCount,
		route.CircuitBreakerEnabled, route.CanaryPercentage,
		requestTransform, responseTransform,
	)
	if isConstraint(err) {
		return fmt.Errorf("%w: route %s", types.ErrAlreadyExists, route.Pattern)
	}
	if err != nil {
		return fmt.Errorf("failed to create route: %w", err)
	}

	s.events.notify(types.StorageEvent{
		Type:   types.EventCreated,
		Kind:   types.KindRoute,
		ID:     route.Pattern,
		Object: cloneRoute(route),
	})

	return nil
}

func (s *sqliteStorage) UpdateRoute(ctx context.Context, route *types.RouteRule) error {
	if err := validateRoute(route); err != nil {
		return err
	}
	if err := s.serviceExists(ctx, route.ServiceName); err != nil {
		return err
	}

	requestTransform, responseTransform, err := marshalTransforms(route)
	if err != nil {
		return err
	}

	query := `UPDATE routes SET service_name = ?, strategy = ?, auth_required = ?, admin_only = ?,
	          rate_limit = ?, timeout = ?, retry_count = ?, circuit_breaker = ?,
	          canary_percentage = ?, request_transform = ?, response_transform = ?
	          WHERE pattern = ?`

	result, err := s.db.ExecContext(ctx, query,
		route.ServiceName, string(route.Strategy), route.AuthRequired, route.AdminOnly,
		route.RateLimit, route.Timeout.Milliseconds(), route.RetryCount,
		route.CircuitBreakerEnabled, route.CanaryPercentage,
		requestTransform, responseTransform, route.Pattern,
	)
	if err != nil {
		return fmt.Errorf("failed to update route: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", types.ErrRouteNotFound, route.Pattern)
	}

	s.events.notify(types.StorageEvent{
		Type:   types.EventUpdated,
		Kind:   types.KindRoute,
		ID:     route.Pattern,
		Object: cloneRoute(route),
	})

	return nil
}

func (s *sqliteStorage) DeleteRoute(ctx context.Context, pattern string) error {
	// Get route before deletion for event
	route, err := s.GetRoute(ctx, pattern)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM routes WHERE pattern = ?", pattern); err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}

	s.events.notify(types.StorageEvent{
		Type:   types.EventDeleted,
		Kind:   types.KindRoute,
		ID:     pattern,
		Object: route,
	})

	return nil
}

// Watch implementation

func (s *sqliteStorage) Watch(ctx context.Context) <-chan types.StorageEvent {
	return s.events.watch(ctx)
}

// Close closes the database connection
func (s *sqliteStorage) Close() error {
	s.events.close()
	return s.db.Close()
}
