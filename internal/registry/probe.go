package registry

import (
	"gatewaycore/internal/circuit"
	"gatewaycore/internal/types"
)

// ProbeTargets returns one liveness target per service: the configured
// health URL, or the health path under the first instance's base URL.
// Services without instances or a health URL are skipped.
func (r *Registry) ProbeTargets() []types.ProbeTarget {
	targets := make([]types.ProbeTarget, 0)

	for _, name := range r.Services() {
		e := r.entry(name)
		if e == nil {
			continue
		}

		e.mu.Lock()
		url := e.healthURL
		if url == "" && len(e.instances) > 0 {
			url = e.instances[0].BaseURL + r.healthPath
		}
		e.mu.Unlock()

		if url != "" {
			targets = append(targets, types.ProbeTarget{Service: name, URL: url})
		}
	}
	return targets
}

// ApplyProbeResult links the liveness picture to routing. Every probe
// stamps the instances' last probe time. An open liveness breaker takes
// healthy and degraded instances out of rotation; a closed breaker with a
// healthy probe brings unhealthy instances back. Maintenance is never
// changed here.
func (r *Registry) ApplyProbeResult(result types.HealthCheckResult, liveness circuit.State) {
	e := r.entry(result.ServiceName)
	if e == nil {
		return
	}

	var changed []string
	var to types.InstanceStatus

	e.mu.Lock()
	for _, inst := range e.instances {
		inst.LastProbeTime = result.Timestamp

		switch {
		case liveness == circuit.StateOpen && inst.Status.Routable():
			inst.Status = types.InstanceStatusUnhealthy
			to = types.InstanceStatusUnhealthy
			changed = append(changed, inst.ID)
		case liveness == circuit.StateClosed && result.Healthy() && inst.Status == types.InstanceStatusUnhealthy:
			inst.Status = types.InstanceStatusHealthy
			to = types.InstanceStatusHealthy
			changed = append(changed, inst.ID)
		}
	}
	e.mu.Unlock()

	if len(changed) == 0 {
		return
	}

	log := r.logger.Info
	if to == types.InstanceStatusUnhealthy {
		log = r.logger.Warn
	}
	log("instance status changed by health probe",
		"service", result.ServiceName,
		"instances", changed,
		"status", string(to),
		"liveness", string(liveness),
	)
}

var _ circuit.ProbeSink = (*Registry)(nil)
var _ circuit.TargetSource = (*Registry)(nil)
