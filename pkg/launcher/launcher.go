package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mailsift/mailsift/pkg/budget"
	"github.com/mailsift/mailsift/pkg/config"
	"github.com/mailsift/mailsift/pkg/events"
	"github.com/mailsift/mailsift/pkg/log"
	"github.com/mailsift/mailsift/pkg/metrics"
	"github.com/mailsift/mailsift/pkg/phase1"
	"github.com/mailsift/mailsift/pkg/phase2"
	"github.com/mailsift/mailsift/pkg/phase3"
	"github.com/mailsift/mailsift/pkg/resource"
	"github.com/mailsift/mailsift/pkg/scheduler"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/worker"
)

// defaultGrace bounds how long a signalled launch waits for in-flight
// items before abandoning them.
const defaultGrace = 30 * time.Second

// staleAfter is how old a heartbeat can be before its instance no
// longer counts as live.
const staleAfter = 15 * time.Second

// ErrConfig marks launch failures that are configuration problems
// rather than runtime ones. The CLI exits 1 for these and 3 for the
// rest.
var ErrConfig = errors.New("invalid launch configuration")

// Launcher wires one machine's share of a phase: it opens the store,
// sizes and starts worker instances, runs the resource monitor beside
// them, and writes the drained marker when the consumed stream is
// finished.
type Launcher struct {
	cfg    *config.Config
	store  *store.Store
	broker *events.Broker
	logger zerolog.Logger
}

// New opens the shared store named by the configuration.
func New(cfg *config.Config) (*Launcher, error) {
	var opts []store.Option
	if ttl := cfg.Store.StaleLockTTL.Std(); ttl > 0 {
		opts = append(opts, store.WithStaleLockTTL(ttl))
	}
	st, err := store.New(cfg.Store.Root, opts...)
	if err != nil {
		return nil, err
	}
	return &Launcher{
		cfg:    cfg,
		store:  st,
		broker: events.NewBroker(),
		logger: log.WithComponent("launcher"),
	}, nil
}

// Store exposes the opened store for the CLI surfaces that read it
// directly.
func (l *Launcher) Store() *store.Store { return l.store }

// Broker exposes the event bus.
func (l *Launcher) Broker() *events.Broker { return l.broker }

// Result is the outcome of one launch.
type Result struct {
	Phase   int
	Plan    *scheduler.Plan
	Summary worker.Summary

	// Drained is set when this launch observed the consumed failure
	// stream fully terminal and the phase marker is on disk.
	Drained bool
}

// ExitCode maps the result onto the process exit contract: 0 for a
// clean drain, 2 when some items failed, 3 when the run was stopped
// early.
func (r *Result) ExitCode() int {
	switch {
	case r.Summary.Stopped:
		return 3
	case r.Summary.Failed > 0:
		return 2
	default:
		return 0
	}
}

// phaseRig bundles what a worker phase runs with.
type phaseRig struct {
	proc    worker.Processor
	pending worker.PendingFunc
	ledger  *budget.Ledger
	close   func()
}

func (l *Launcher) buildRig(phase int) (*phaseRig, error) {
	switch phase {
	case 1:
		return &phaseRig{
			proc:  phase1.FromConfig(l.store, l.cfg.OCR),
			close: func() {},
		}, nil
	case 2:
		p := phase2.FromConfig(l.store, l.cfg.Inference)
		return &phaseRig{proc: p, pending: p.Pending, close: func() {}}, nil
	case 3:
		ext := l.cfg.External
		ledger, err := budget.Open(l.store.BudgetDBPath(),
			ext.DailyTokenLimit, ext.DailyCostLimitUSD, ext.CostPer1KTokensUSD)
		if err != nil {
			return nil, fmt.Errorf("failed to open budget ledger: %w", err)
		}
		p := phase3.FromConfig(l.store, ext, ledger)
		return &phaseRig{
			proc:    p,
			pending: p.Pending,
			ledger:  ledger,
			close:   func() { _ = ledger.Close() },
		}, nil
	}
	return nil, fmt.Errorf("%w: no worker runs phase %d", ErrConfig, phase)
}

// Launch runs one machine's configured instances for a worker phase
// (1 to 3) until the items drain or a stop arrives. Phase 4 is the
// review surface and phase 5 runs as a delivery pass; both have their
// own commands.
func (l *Launcher) Launch(ctx context.Context, phase int, machineTag string) (*Result, error) {
	if phase < 1 || phase > 3 {
		return nil, fmt.Errorf("%w: launch runs phases 1 to 3, got %d", ErrConfig, phase)
	}
	assign, err := l.cfg.Assignment(machineTag, fmt.Sprintf("phase%d", phase))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	// A stop flag left over from the previous run must not kill this
	// one before it starts.
	if err := l.store.ClearStop(machineTag); err != nil {
		return nil, err
	}

	rig, err := l.buildRig(phase)
	if err != nil {
		return nil, err
	}
	defer rig.close()

	items, err := l.store.Scan()
	if err != nil {
		return nil, err
	}

	l.broker.Start()
	defer l.broker.Stop()
	unwatch := metrics.WatchEvents(l.broker)
	defer unwatch()

	monitor := resource.NewMonitor(l.cfg.Resources).WithBroker(l.broker)
	monitor.Start()
	defer monitor.Stop()

	collector := metrics.NewCollector(l.store)
	if rig.ledger != nil {
		collector = collector.WithBudget(rig.ledger)
	}
	collector.Start()
	defer collector.Stop()

	stopOps := l.serveOps(phase, monitor)
	defer stopOps()

	recommended := 0
	if assign.Instances == 0 {
		snap, serr := monitor.Sample(ctx)
		if serr != nil {
			return nil, fmt.Errorf("failed to size instances: %w", serr)
		}
		recommended = snap.RecommendedInstances
	}

	plan, err := scheduler.Resolve(assign, len(items), recommended)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	result := &Result{Phase: phase, Plan: plan}
	l.logger.Info().
		Int("phase", phase).
		Str("machine", machineTag).
		Str("range", plan.Machine.String()).
		Int("instances", len(plan.Instances)).
		Msg("Launching")

	if err := l.runInstances(ctx, machineTag, rig, monitor, plan, result); err != nil {
		return result, err
	}

	if !result.Summary.Stopped {
		l.finishPhase(phase, result)
	}
	return result, nil
}

// runInstances fans the plan out to worker instances and aggregates
// their summaries. The first infrastructure abort cancels the rest
// mid-item; a signal first asks every instance to finish its item and
// only cancels after the grace window.
func (l *Launcher) runInstances(ctx context.Context, machineTag string, rig *phaseRig, monitor *resource.Monitor, plan *scheduler.Plan, result *Result) error {
	if len(plan.Instances) == 0 {
		l.logger.Info().Msg("No items in range")
		return nil
	}

	instances := make([]*worker.Instance, 0, len(plan.Instances))
	for _, r := range plan.Instances {
		var src worker.Source
		if rig.pending == nil {
			src = worker.NewRangeSource(l.store, r.Start, r.End)
		} else {
			src = worker.NewStreamSource(l.store, rig.pending, r.Start, r.End)
		}
		inst := worker.New(l.store, rig.proc, src).
			WithMachineTag(machineTag).
			WithRange(r.Start, r.End).
			WithThrottle(monitor).
			WithBroker(l.broker)
		instances = append(instances, inst)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go l.awaitSignal(sigCh, instances, cancel, done)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(runCtx)
	for _, inst := range instances {
		inst := inst
		g.Go(func() error {
			sum, rerr := inst.Run(gctx)
			if sum != nil {
				mu.Lock()
				result.Summary.Processed += sum.Processed
				result.Summary.Failed += sum.Failed
				result.Summary.Deferred += sum.Deferred
				result.Summary.Skipped += sum.Skipped
				result.Summary.Stopped = result.Summary.Stopped || sum.Stopped
				mu.Unlock()
			}
			return rerr
		})
	}
	err := g.Wait()
	close(done)
	if err != nil {
		result.Summary.Stopped = true
		return err
	}
	return nil
}

// awaitSignal is the graceful-shutdown path: the first SIGINT/SIGTERM
// lets in-flight items finish inside the grace window, a second signal
// or the window expiring abandons them.
func (l *Launcher) awaitSignal(sigCh <-chan os.Signal, instances []*worker.Instance, cancel context.CancelFunc, done <-chan struct{}) {
	grace := l.cfg.Store.GraceWindow.Std()
	if grace <= 0 {
		grace = defaultGrace
	}

	select {
	case sig := <-sigCh:
		l.logger.Info().
			Str("signal", sig.String()).
			Dur("grace", grace).
			Msg("Signal received, finishing in-flight items")
		for _, inst := range instances {
			inst.Stop()
		}
		select {
		case <-done:
		case <-sigCh:
			l.logger.Warn().Msg("Second signal, abandoning in-flight items")
			cancel()
		case <-time.After(grace):
			l.logger.Warn().Msg("Grace window expired, abandoning in-flight items")
			cancel()
		}
	case <-done:
	}
}

// finishPhase writes the drained marker once the consumed stream has
// no live work left. Marker trouble is logged, not fatal: the next
// complete run writes it.
func (l *Launcher) finishPhase(phase int, result *Result) {
	if phase < 2 {
		return
	}
	consumed, err := l.streamConsumed(phase)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Drain check failed")
		return
	}
	if !consumed {
		return
	}
	result.Drained = true
	if l.store.MarkerExists(phase - 1) {
		return
	}
	if err := l.store.WriteMarker(phase - 1); err != nil {
		l.logger.Warn().Err(err).Msg("Marker write failed")
		return
	}
	l.logger.Info().Int("phase", phase-1).Msg("Phase stream drained")
	l.broker.Publish(&events.Event{
		Type:     events.EventPhaseDrained,
		Message:  fmt.Sprintf("phase %d failure stream fully consumed", phase-1),
		Metadata: map[string]string{"phase": fmt.Sprintf("%d", phase-1)},
	})
}

// streamConsumed reports whether every record in the stream this phase
// consumes has reached a terminal state: an artifact from any phase, a
// failure record of this phase, or removal from the input tree.
// Deferred items are live work, so the marker waits for them.
func (l *Launcher) streamConsumed(phase int) (bool, error) {
	records, err := l.store.ReadFailures(phase - 1)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		// An empty stream counts as consumed only when the prior phase
		// demonstrably ran; otherwise a launch against a fresh store
		// would mark phases done that never started.
		n, cerr := l.store.CountArtifacts(phase - 1)
		if cerr != nil {
			return false, cerr
		}
		return n > 0, nil
	}

	items, err := l.store.Scan()
	if err != nil {
		return false, err
	}
	present := make(map[string]bool, len(items))
	for _, item := range items {
		present[item.ItemID] = true
	}

	failedHere := make(map[string]bool)
	here, err := l.store.ReadFailures(phase)
	if err != nil {
		return false, err
	}
	for _, rec := range here {
		failedHere[rec.ItemID] = true
	}

	for _, rec := range records {
		if !present[rec.ItemID] || failedHere[rec.ItemID] {
			continue
		}
		done, herr := l.store.HasArtifact(rec.ItemID)
		if herr != nil {
			return false, herr
		}
		if !done {
			return false, nil
		}
	}
	return true, nil
}
