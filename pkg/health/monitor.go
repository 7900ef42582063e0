package health

import (
	"context"
	"sync"
	"time"

	"github.com/mailsift/mailsift/pkg/log"
	"github.com/mailsift/mailsift/pkg/metrics"
	"github.com/rs/zerolog"
)

// Monitor drives a set of probes on an interval and feeds every
// verdict to the ops surface, so /health reflects the collaborators a
// running phase depends on.
type Monitor struct {
	probes []*Probe
	cfg    Config
	logger zerolog.Logger

	mu     sync.RWMutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor creates a monitor with default probe settings.
func NewMonitor(probes []*Probe) *Monitor {
	return &Monitor{
		probes: probes,
		cfg:    DefaultConfig(),
		logger: log.WithComponent("health"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// WithConfig replaces the probe settings.
func (m *Monitor) WithConfig(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultConfig().Retries
	}
	m.cfg = cfg
	return m
}

// Start registers the probes and begins background sweeps.
func (m *Monitor) Start() {
	for _, p := range m.probes {
		metrics.RegisterComponent(p.Name, true, "probing")
	}
	go m.loop()
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Sweep(context.Background())
	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Sweep probes every collaborator once, in parallel, and publishes the
// verdicts. The background loop calls it on every tick.
func (m *Monitor) Sweep(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var wg sync.WaitGroup
	results := make([]Result, len(m.probes))
	for i, p := range m.probes {
		wg.Add(1)
		go func(i int, p *Probe) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
			defer cancel()
			results[i] = p.Checker.Check(probeCtx)
		}(i, p)
	}
	wg.Wait()

	for i, p := range m.probes {
		changed := p.status.Update(results[i], m.cfg.Retries)
		metrics.UpdateComponent(p.Name, p.status.Healthy, results[i].Message)
		if !changed {
			continue
		}
		if p.status.Healthy {
			m.logger.Info().
				Str("probe", p.Name).
				Str("message", results[i].Message).
				Msg("Collaborator recovered")
		} else {
			m.logger.Warn().
				Str("probe", p.Name).
				Int("failures", p.status.ConsecutiveFailures).
				Str("message", results[i].Message).
				Msg("Collaborator unreachable")
		}
	}
}

// Statuses returns a snapshot of every probe's verdict by name.
func (m *Monitor) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.probes))
	for _, p := range m.probes {
		out[p.Name] = *p.status
	}
	return out
}
