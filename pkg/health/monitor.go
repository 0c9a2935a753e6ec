package health

import (
	"context"
	"time"

	"github.com/cuemby/jenkins-relay/pkg/log"
	"github.com/cuemby/jenkins-relay/pkg/metrics"
)

// Monitor probes a target on an interval and publishes its status as a
// metrics health component.
type Monitor struct {
	name    string
	checker Checker
	config  Config
	status  *Status
}

// NewMonitor creates a monitor reporting under the component name
func NewMonitor(name string, checker Checker, config Config) *Monitor {
	return &Monitor{
		name:    name,
		checker: checker,
		config:  config,
		status:  NewStatus(),
	}
}

// Run probes until ctx is cancelled. The first probe runs immediately.
func (m *Monitor) Run(ctx context.Context) {
	metrics.SetComponent(m.name, true, "not probed yet")

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		m.probe(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	wasHealthy := m.status.Healthy
	result := m.checker.Check(ctx)
	m.status.Update(result, m.config)
	metrics.SetComponent(m.name, m.status.Healthy, result.Message)

	logger := log.WithComponent("health")
	switch {
	case wasHealthy && !m.status.Healthy:
		logger.Warn().Str("target", m.name).Str("result", result.Message).Msg("Target became unhealthy")
	case !wasHealthy && m.status.Healthy:
		logger.Info().Str("target", m.name).Msg("Target recovered")
	}
}

// Status returns the status after the last probe
func (m *Monitor) Status() Status {
	return *m.status
}
