package launcher

import (
	"context"
	"time"

	"github.com/mailsift/mailsift/pkg/api"
	"github.com/mailsift/mailsift/pkg/health"
	"github.com/mailsift/mailsift/pkg/metrics"
	"github.com/mailsift/mailsift/pkg/resource"
)

// serveOps registers the health components, starts the collaborator
// probes for the phase and, when an address is configured, the ops
// HTTP server beside the workers. The returned function tears them
// down. A failed bind is logged and the launch continues unmonitored
// rather than dying for a port.
func (l *Launcher) serveOps(phase int, monitor *resource.Monitor) func() {
	metrics.RegisterComponent("store", true, "opened "+l.cfg.Store.Root)
	metrics.RegisterComponent("resource_monitor", true, "sampling")

	var checks *health.Monitor
	if probes := health.ForPhase(l.cfg, phase); len(probes) > 0 {
		checks = health.NewMonitor(probes)
		checks.Start()
	}
	stopChecks := func() {
		if checks != nil {
			checks.Stop()
		}
	}

	if l.cfg.Metrics.Listen == "" {
		return stopChecks
	}

	srv := api.NewServer(l.cfg.Metrics.Listen, l.store).WithMonitor(monitor)
	if err := srv.Start(); err != nil {
		l.logger.Warn().Err(err).Msg("Ops server did not start")
		return stopChecks
	}
	return func() {
		stopChecks()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}
}
