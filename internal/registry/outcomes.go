package registry

import (
	"fmt"
	"time"

	"gatewaycore/internal/types"
)

const (
	outcomeCapacity = 100
	errorWindow     = 5 * time.Minute
	ewmaDecay       = 0.9
)

type outcome struct {
	at             time.Time
	success        bool
	responseTimeMs float64
}

// outcomeRing keeps the most recent outcomes of one instance
type outcomeRing struct {
	buf  [outcomeCapacity]outcome
	next int
	size int
}

func (o *outcomeRing) add(out outcome) {
	o.buf[o.next] = out
	o.next = (o.next + 1) % outcomeCapacity
	if o.size < outcomeCapacity {
		o.size++
	}
}

// errorRate returns the failure percentage over outcomes younger than
// the window, and false when there are none
func (o *outcomeRing) errorRate(now time.Time) (float64, bool) {
	var total, failed int
	for i := 0; i < o.size; i++ {
		out := o.buf[i]
		if now.Sub(out.at) >= errorWindow {
			continue
		}
		total++
		if !out.success {
			failed++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(failed) / float64(total) * 100, true
}

// RecordOutcome feeds back one proxied call. The service's traffic breaker
// is informed even when the instance is unknown, in which case
// ErrInstanceNotFound is returned.
func (r *Registry) RecordOutcome(service, instanceID string, responseTimeMs float64, success bool) error {
	e := r.entry(service)
	if e == nil {
		return types.ProxyError{Op: "record outcome", Service: service, Err: types.ErrUnknownService}
	}

	if success {
		e.breaker.RecordSuccess()
	} else {
		e.breaker.RecordFailure()
	}
	r.metrics.RecordOutcome(service, success, time.Duration(responseTimeMs*float64(time.Millisecond)))

	now := r.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	inst := e.findLocked(instanceID)
	if inst == nil {
		return types.ProxyError{Op: "record outcome", Service: service, Err: fmt.Errorf("%w: %s", types.ErrInstanceNotFound, instanceID)}
	}

	ring, ok := e.outcomes[instanceID]
	if !ok {
		ring = &outcomeRing{}
		e.outcomes[instanceID] = ring
	}

	if ring.size == 0 {
		inst.ResponseTimeEWMA = responseTimeMs
	} else {
		inst.ResponseTimeEWMA = inst.ResponseTimeEWMA*ewmaDecay + responseTimeMs*(1-ewmaDecay)
	}

	ring.add(outcome{at: now, success: success, responseTimeMs: responseTimeMs})
	if rate, ok := ring.errorRate(now); ok {
		inst.ErrorRatePercent = rate
	}
	return nil
}

// GetServiceStats summarizes a service's instances
func (r *Registry) GetServiceStats(service string) (types.ServiceStats, error) {
	e := r.entry(service)
	if e == nil {
		return types.ServiceStats{}, types.ProxyError{Op: "stats", Service: service, Err: types.ErrUnknownService}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stats := types.ServiceStats{
		ServiceName:   service,
		Status:        "unavailable",
		InstanceCount: len(e.instances),
		Instances:     make([]types.InstanceStats, 0, len(e.instances)),
	}
	if len(e.instances) == 0 {
		return stats, nil
	}

	var totalResponse, totalErrors float64
	for _, inst := range e.instances {
		if inst.Status == types.InstanceStatusHealthy {
			stats.HealthyCount++
		}
		totalResponse += inst.ResponseTimeEWMA
		totalErrors += inst.ErrorRatePercent

		stats.Instances = append(stats.Instances, types.InstanceStats{
			ID:                inst.ID,
			BaseURL:           inst.BaseURL,
			Status:            inst.Status,
			Weight:            inst.Weight,
			ResponseTimeMs:    inst.ResponseTimeEWMA,
			ErrorRatePercent:  inst.ErrorRatePercent,
			ActiveConnections: inst.ActiveConnections,
			LastProbeTime:     inst.LastProbeTime,
			Version:           inst.Version,
		})
	}

	n := float64(len(e.instances))
	stats.AvgResponseTimeMs = totalResponse / n
	stats.AvgErrorRate = totalErrors / n
	stats.Status = "unhealthy"
	if stats.HealthyCount > 0 {
		stats.Status = "healthy"
	}
	return stats, nil
}
