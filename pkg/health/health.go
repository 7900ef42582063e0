package health

import (
	"context"
	"time"
)

// CheckType says how a collaborator is probed.
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result is the outcome of a single probe attempt.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one collaborator once.
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// Config tunes the probe loop.
type Config struct {
	// Interval is the time between probe sweeps.
	Interval time.Duration

	// Timeout bounds a single probe attempt.
	Timeout time.Duration

	// Retries is the number of consecutive failures before a
	// collaborator is reported unhealthy.
	Retries int
}

// DefaultConfig returns the probe loop defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status folds raw results into a stable verdict. The retry threshold
// keeps one lost packet from flapping the ops surface; a single
// success restores health immediately.
type Status struct {
	ConsecutiveFailures int
	LastResult          Result
	Healthy             bool
}

// NewStatus starts healthy; a collaborator has to prove itself down.
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update records a result and reports whether the verdict changed.
func (s *Status) Update(result Result, retries int) bool {
	s.LastResult = result

	was := s.Healthy
	if result.Healthy {
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		if s.ConsecutiveFailures >= retries {
			s.Healthy = false
		}
	}
	return s.Healthy != was
}
