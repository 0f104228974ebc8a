// Package api implements the read-only operational API of the gateway core
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"gatewaycore/internal/circuit"
	"gatewaycore/internal/logging"
	"gatewaycore/internal/metrics"
	"gatewaycore/internal/registry"
	"gatewaycore/internal/types"
	"gatewaycore/internal/version"
)

// Options wires the handler to the traffic core
type Options struct {
	Registry  *registry.Registry
	Prober    *circuit.Prober
	Collector *metrics.Collector
	Hub       *Hub

	// Metrics serves Prometheus exposition at MetricsPath when set
	Metrics     http.Handler
	MetricsPath string

	Logger types.Logger
}

// Handler provides the operational API
type Handler struct {
	registry  *registry.Registry
	prober    *circuit.Prober
	collector *metrics.Collector
	hub       *Hub
	metrics   http.Handler
	metricsAt string
	logger    types.Logger
}

// New creates a new API handler instance
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	return &Handler{
		registry:  opts.Registry,
		prober:    opts.Prober,
		collector: opts.Collector,
		hub:       opts.Hub,
		metrics:   opts.Metrics,
		metricsAt: opts.MetricsPath,
		logger:    opts.Logger.With("component", "api"),
	}
}

// Router returns the HTTP handler for the API
func (h *Handler) Router() http.Handler {
	mainRouter := mux.NewRouter()
	mainRouter.Use(recoverMiddleware(h.logger), loggingMiddleware(h.logger))

	// Prometheus metrics endpoint (no JSON middleware)
	if h.metrics != nil {
		mainRouter.Handle(h.metricsAt, h.metrics).Methods(http.MethodGet)
	}

	// Health stream is upgraded to a websocket
	if h.hub != nil {
		mainRouter.Handle("/api/v1/health/stream", h.hub).Methods(http.MethodGet)
	}

	jsonRouter := mainRouter.PathPrefix("/").Subrouter()
	jsonRouter.Use(corsMiddleware, jsonMiddleware)

	jsonRouter.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	apiRouter := jsonRouter.PathPrefix("/api/v1").Subrouter()

	// Health
	apiRouter.HandleFunc("/health/summary", h.handleHealthSummary).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/health/services/{name}", h.handleServiceHealth).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/health/services/{name}/history", h.handleServiceHistory).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/circuit-breakers", h.handleCircuitBreakers).Methods(http.MethodGet, http.MethodOptions)

	// Services
	apiRouter.HandleFunc("/services", h.handleListServices).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/services/{name}/stats", h.handleServiceStats).Methods(http.MethodGet, http.MethodOptions)

	// Routes
	apiRouter.HandleFunc("/routes", h.handleListRoutes).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/routes/match", h.handleMatchRoute).Methods(http.MethodGet, http.MethodOptions)

	// Metrics (JSON rollup)
	apiRouter.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet, http.MethodOptions)

	return mainRouter
}

// handleHealth handles GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := version.GetInfo()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   info.Version,
		"uptime":    info.Uptime,
		"runtime": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"go_version": info.GoVersion,
			"platform":   info.Platform,
		},
		"services": len(h.registry.Services()),
		"routes":   len(h.registry.Routes()),
	})
}

// handleHealthSummary handles GET /api/v1/health/summary
func (h *Handler) handleHealthSummary(w http.ResponseWriter, r *http.Request) {
	if h.prober == nil {
		respondError(w, http.StatusServiceUnavailable, "Health prober is not running")
		return
	}
	respondJSON(w, http.StatusOK, h.prober.Summary())
}

// handleServiceHealth handles GET /api/v1/health/services/{name}
func (h *Handler) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !h.knownService(name) {
		respondError(w, http.StatusNotFound, "Service not found")
		return
	}
	if h.prober == nil {
		respondError(w, http.StatusServiceUnavailable, "Health prober is not running")
		return
	}

	status := h.prober.ServiceStatus(name)
	resp := ServiceHealth{
		ServiceName: name,
		Status:      status,
		Healthy:     status == types.HealthStatusHealthy,
		Liveness:    circuit.Snapshot{Name: name, State: circuit.StateClosed},
	}
	if breaker, ok := h.prober.Breakers().Lookup(name); ok {
		resp.Liveness = breaker.GetState()
	}
	if recent := h.prober.History(name, 1); len(recent) == 1 {
		last := toHealthResult(recent[0])
		resp.LastResult = &last
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleServiceHistory handles GET /api/v1/health/services/{name}/history
func (h *Handler) handleServiceHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !h.knownService(name) {
		respondError(w, http.StatusNotFound, "Service not found")
		return
	}
	if h.prober == nil {
		respondError(w, http.StatusServiceUnavailable, "Health prober is not running")
		return
	}

	limit := circuit.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	respondJSON(w, http.StatusOK, toHealthResults(h.prober.History(name, limit)))
}

// handleCircuitBreakers handles GET /api/v1/circuit-breakers
func (h *Handler) handleCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	resp := BreakerResponse{
		Traffic:  h.registry.CircuitBreakerStates(),
		Liveness: []circuit.Snapshot{},
	}
	if h.prober != nil {
		resp.Liveness = h.prober.CircuitBreakerStates()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListServices handles GET /api/v1/services
func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Services()
	services := make([]ServiceResponse, 0, len(names))
	for _, name := range names {
		instances, err := h.registry.Instances(name)
		if err != nil {
			// Removed between listing and lookup
			continue
		}
		services = append(services, ServiceResponse{Name: name, Instances: instances})
	}
	respondJSON(w, http.StatusOK, services)
}

// handleServiceStats handles GET /api/v1/services/{name}/stats
func (h *Handler) handleServiceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.GetServiceStats(mux.Vars(r)["name"])
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleListRoutes handles GET /api/v1/routes
func (h *Handler) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.Routes())
}

// handleMatchRoute handles GET /api/v1/routes/match?path=
func (h *Handler) handleMatchRoute(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	rule, err := h.registry.FindRoute(path)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, RouteMatch{Path: path, Rule: rule})
}

// handleStats handles GET /api/v1/stats
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		respondError(w, http.StatusServiceUnavailable, "Metrics collection is disabled")
		return
	}
	respondJSON(w, http.StatusOK, h.collector.GetStats())
}

func (h *Handler) knownService(name string) bool {
	for _, s := range h.registry.Services() {
		if s == name {
			return true
		}
	}
	return false
}

// respondLookupError maps registry errors to status codes
func (h *Handler) respondLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrUnknownService):
		respondErrorWithCode(w, http.StatusNotFound, "Service not found", "unknown_service")
	case errors.Is(err, types.ErrRouteNotFound):
		respondErrorWithCode(w, http.StatusNotFound, "No route matches path", "route_not_found")
	default:
		h.logger.Error("API lookup failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if data != nil {
		// Headers are already sent, so an encoding failure cannot be reported
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
	})
}

// respondErrorWithCode writes an error response with error code
func respondErrorWithCode(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
