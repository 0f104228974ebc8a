// Package balancer implements the instance selection strategies
package balancer

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"gatewaycore/internal/types"
)

// Balancer selects one instance from an eligible candidate list.
// Candidates are given in registration order; implementations keep only
// the cursor or counter state their strategy needs.
type Balancer interface {
	Select(candidates []*types.ServiceInstance, clientIP string) (*types.ServiceInstance, error)

	// Remove drops any per-instance state held for instanceID
	Remove(instanceID string)
}

// New creates a balancer for the given strategy
func New(strategy types.Strategy, opts ...Option) (Balancer, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	switch strategy {
	case types.StrategyRoundRobin, "":
		return NewRoundRobin(), nil
	case types.StrategyLeastConnections:
		return NewLeastConnections(), nil
	case types.StrategyWeightedRoundRobin:
		return NewWeightedRoundRobin(), nil
	case types.StrategyRandom:
		return newRandom(o.source), nil
	case types.StrategyIPHash:
		return newIPHash(o.source), nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidStrategy, strategy)
	}
}

// ParseStrategy converts a configured strategy name
func ParseStrategy(name string) (types.Strategy, error) {
	return types.ParseStrategy(name)
}

// Eligible filters instances to those that may receive traffic
func Eligible(instances []*types.ServiceInstance) []*types.ServiceInstance {
	eligible := make([]*types.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Status.Routable() {
			eligible = append(eligible, inst)
		}
	}
	return eligible
}

// NewInstance creates a healthy instance from a service endpoint. The ID
// is "<service>-<host:port>".
func NewInstance(service, endpoint string, weight int) (*types.ServiceInstance, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInstance, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q must be an absolute http or https URL", types.ErrInvalidInstance, endpoint)
	}

	return &types.ServiceInstance{
		ID:      service + "-" + u.Host,
		BaseURL: strings.TrimRight(endpoint, "/"),
		Weight:  weight,
		Status:  types.InstanceStatusHealthy,
	}, nil
}

// InstancesFromDefinition creates one instance per endpoint with equal weight
func InstancesFromDefinition(def *types.ServiceDefinition) ([]*types.ServiceInstance, error) {
	instances := make([]*types.ServiceInstance, 0, len(def.Endpoints))

	for _, endpoint := range def.Endpoints {
		inst, err := NewInstance(def.Name, endpoint, def.Weight)
		if err != nil {
			return nil, err
		}
		inst.Version = def.Version
		if len(def.Metadata) > 0 {
			inst.Metadata = make(map[string]any, len(def.Metadata))
			for k, v := range def.Metadata {
				inst.Metadata[k] = v
			}
		}
		instances = append(instances, inst)
	}

	return instances, nil
}

// ClientIP extracts the client address from a proxied request, preferring
// X-Forwarded-For, then X-Real-IP, then RemoteAddr
func ClientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the chain
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			xff = xff[:idx]
		}
		if ip := net.ParseIP(strings.TrimSpace(xff)); ip != nil {
			return ip.String()
		}
	}

	if xri := req.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		// RemoteAddr might be just an IP without port
		return req.RemoteAddr
	}
	return host
}
