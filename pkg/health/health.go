// Package health probes the coordinator the relay talks to and reports the
// outcome through the metrics health registry.
package health

import (
	"context"
	"time"
)

// Result represents the outcome of a probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is implemented by every probe
type Checker interface {
	Check(ctx context.Context) Result
}

// Config controls how often probes run and when a target is unhealthy
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks the health of one target across probes
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status that is healthy until proven otherwise
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a new probe result into the status
func (s *Status) Update(result Result, config Config) {
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= config.Retries {
		s.Healthy = false
	}
}
