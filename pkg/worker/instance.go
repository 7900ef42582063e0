package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailsift/mailsift/pkg/events"
	"github.com/mailsift/mailsift/pkg/log"
	"github.com/mailsift/mailsift/pkg/metrics"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

const (
	defaultHeartbeat = 5 * time.Second

	// maxConsecutiveFSErrors aborts the instance: when the shared
	// filesystem itself is failing, continuing would burn through the
	// queue without producing anything.
	maxConsecutiveFSErrors = 3

	throttlePoll = time.Second
)

// errShutdown marks an item abandoned because shutdown was requested
// while it was in flight. The lock is released and nothing is written;
// the next run picks the item up again.
var errShutdown = errors.New("shutdown requested mid-item")

// Processor runs one phase's analysis on a claimed item. It returns an
// Artifact on success, a FailureRecord when the item leaves the phase
// without one, and an error only when the instance itself should treat
// the attempt as an infrastructure failure.
type Processor interface {
	Phase() int
	Process(ctx context.Context, item *types.WorkItem) (*types.Artifact, *types.FailureRecord, error)
}

// Throttle reports whether workers should pause at the next item
// boundary. *resource.Monitor implements it.
type Throttle interface {
	Throttled() bool
}

// Summary is what one instance's run amounted to.
type Summary struct {
	Processed int
	Failed    int
	Deferred  int
	Skipped   int

	// Stopped is set when the run ended early on a stop flag, signal
	// or mid-item shutdown rather than by draining its items.
	Stopped bool
}

// Instance is one claim-loop runner: it walks its item source in
// order and, for each item, claims, processes, persists the outcome
// and releases. Many instances run per host and per phase; the claim
// protocol makes overlap between them harmless.
type Instance struct {
	id         string
	machineTag string
	store      *store.Store
	proc       Processor
	source     Source

	throttle    Throttle
	broker      *events.Broker
	itemTimeout time.Duration
	heartbeat   time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	status types.InstanceStatus

	stopCh   chan struct{}
	stopOnce sync.Once

	// hbCh ends the heartbeat; unlike stopCh it stays open through a
	// graceful stop so a draining instance keeps reporting fresh.
	hbCh chan struct{}
}

// New creates an instance over the given item source.
func New(st *store.Store, proc Processor, source Source) *Instance {
	id := uuid.NewString()
	return &Instance{
		id:        id,
		store:     st,
		proc:      proc,
		source:    source,
		heartbeat: defaultHeartbeat,
		logger:    log.WithInstance(id).With().Int("phase", proc.Phase()).Logger(),
		status: types.InstanceStatus{
			InstanceID: id,
			Phase:      proc.Phase(),
			PID:        os.Getpid(),
		},
		stopCh: make(chan struct{}),
		hbCh:   make(chan struct{}),
	}
}

// WithID overrides the generated instance ID.
func (i *Instance) WithID(id string) *Instance {
	i.id = id
	i.status.InstanceID = id
	i.logger = log.WithInstance(id).With().Int("phase", i.proc.Phase()).Logger()
	return i
}

// WithMachineTag sets the tag recorded in status files and watched for
// stop flags.
func (i *Instance) WithMachineTag(tag string) *Instance {
	i.machineTag = tag
	i.status.MachineTag = tag
	return i
}

// WithRange records the slot range this instance covers.
func (i *Instance) WithRange(start, end int) *Instance {
	i.status.RangeStart = start
	i.status.RangeEnd = end
	return i
}

// WithThrottle makes the instance pause at item boundaries while the
// monitor's throttle is raised.
func (i *Instance) WithThrottle(t Throttle) *Instance {
	i.throttle = t
	return i
}

// WithBroker publishes item and lifecycle events on the given bus.
func (i *Instance) WithBroker(b *events.Broker) *Instance {
	i.broker = b
	return i
}

// WithItemTimeout bounds a single item's processing time. Zero leaves
// only the per-call timeouts the processors apply themselves.
func (i *Instance) WithItemTimeout(d time.Duration) *Instance {
	i.itemTimeout = d
	return i
}

// WithHeartbeat sets how often the status file is rewritten.
func (i *Instance) WithHeartbeat(d time.Duration) *Instance {
	if d > 0 {
		i.heartbeat = d
	}
	return i
}

// ID returns the instance identifier.
func (i *Instance) ID() string { return i.id }

// Stop asks the instance to finish its current item and exit. Safe to
// call more than once and from any goroutine.
func (i *Instance) Stop() {
	i.stopOnce.Do(func() { close(i.stopCh) })
}

// Run walks the instance's items until they are drained, a stop is
// requested, or the filesystem aborts it. The returned error is
// non-nil only for the abort path; an early stop is a clean return
// with Summary.Stopped set.
func (i *Instance) Run(ctx context.Context) (*Summary, error) {
	items, err := i.source.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate items: %w", err)
	}

	i.begin()
	defer i.finish()

	i.logger.Info().Int("items", len(items)).Msg("Instance started")
	i.publish(events.EventInstanceStarted, map[string]string{"instance_id": i.id})

	summary := &Summary{}
	consecutiveFS := 0

	for _, item := range items {
		if i.stopRequested(ctx) {
			summary.Stopped = true
			break
		}
		if err := i.waitThrottle(ctx); err != nil {
			summary.Stopped = true
			break
		}

		err := i.processOne(ctx, item, summary)
		switch {
		case err == nil:
			consecutiveFS = 0
		case errors.Is(err, errShutdown):
			summary.Stopped = true
		default:
			consecutiveFS++
			i.logger.Error().Err(err).Str("item_id", item.ItemID).Msg("Item attempt failed")
			if consecutiveFS >= maxConsecutiveFSErrors {
				i.logSummary(summary)
				return summary, fmt.Errorf("aborted after %d consecutive filesystem errors: %w", consecutiveFS, err)
			}
		}
		if summary.Stopped {
			break
		}
	}

	i.logSummary(summary)
	return summary, nil
}

// processOne runs the claim-process-persist-release cycle for a single
// item. A nil return means the item reached a terminal state for this
// run (artifact, failure stream, deferred queue, or silent skip).
func (i *Instance) processOne(ctx context.Context, item *types.WorkItem, summary *Summary) error {
	phase := i.proc.Phase()

	if err := i.store.Claim(phase, item.ItemID); err != nil {
		if errors.Is(err, store.ErrAlreadyDone) || errors.Is(err, store.ErrContended) {
			summary.Skipped++
			i.bump(func(st *types.InstanceStatus) { st.Skipped++ })
			return nil
		}
		return err
	}

	i.bump(func(st *types.InstanceStatus) { st.CurrentItem = item.ItemID })
	defer i.bump(func(st *types.InstanceStatus) { st.CurrentItem = "" })

	pctx := ctx
	if i.itemTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, i.itemTimeout)
		defer cancel()
	}

	timer := metrics.NewTimer()
	art, rec, perr := i.proc.Process(pctx, item)
	timer.ObserveDurationVec(metrics.ItemDuration, metrics.Phase(phase))

	// A parent cancellation mid-item is shutdown, not an outcome. The
	// item stays unprocessed for the next run.
	if ctx.Err() != nil {
		_ = i.store.Release(phase, item.ItemID)
		return errShutdown
	}

	switch {
	case perr != nil:
		_ = i.store.Release(phase, item.ItemID)
		return perr

	case art != nil:
		if err := i.store.WriteArtifact(art); err != nil {
			_ = i.store.Release(phase, item.ItemID)
			return err
		}
		summary.Processed++
		i.bump(func(st *types.InstanceStatus) { st.Processed++ })
		metrics.ItemsProcessed.WithLabelValues(metrics.Phase(phase)).Inc()
		i.publish(events.EventItemProcessed, map[string]string{
			"item_id": item.ItemID,
			"kind":    string(art.DocKind),
		})

	case rec != nil && deferrable(rec.Reason):
		if err := i.store.AppendDeferred(rec); err != nil {
			_ = i.store.Release(phase, item.ItemID)
			return err
		}
		summary.Deferred++
		i.bump(func(st *types.InstanceStatus) { st.Deferred++ })
		metrics.ItemsDeferred.WithLabelValues(metrics.Phase(phase)).Inc()
		i.publish(events.EventItemDeferred, map[string]string{
			"item_id": item.ItemID,
			"reason":  string(rec.Reason),
		})

	case rec != nil:
		if err := i.store.AppendFailure(rec); err != nil {
			_ = i.store.Release(phase, item.ItemID)
			return err
		}
		summary.Failed++
		i.bump(func(st *types.InstanceStatus) { st.Failed++ })
		metrics.ItemsFailed.WithLabelValues(metrics.Phase(phase), string(rec.Reason)).Inc()
		i.publish(events.EventItemFailed, map[string]string{
			"item_id": item.ItemID,
			"reason":  string(rec.Reason),
		})

	default:
		_ = i.store.Release(phase, item.ItemID)
		return fmt.Errorf("processor returned no outcome for %s", item.ItemID)
	}

	return i.store.Release(phase, item.ItemID)
}

// deferrable reasons park the item in the deferred queue instead of
// the failure stream; a later run retries them.
func deferrable(reason types.FailureReason) bool {
	return reason == types.ReasonRateLimited || reason == types.ReasonQuotaExhausted
}

// waitThrottle blocks between items while the throttle is raised. The
// in-flight item before this call always ran to completion.
func (i *Instance) waitThrottle(ctx context.Context) error {
	if i.throttle == nil || !i.throttle.Throttled() {
		return nil
	}

	i.logger.Info().Msg("Throttle raised, pausing")
	i.bump(func(st *types.InstanceStatus) { st.Throttled = true })
	i.writeStatus()
	defer func() {
		i.bump(func(st *types.InstanceStatus) { st.Throttled = false })
		i.writeStatus()
	}()

	ticker := time.NewTicker(throttlePoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-i.stopCh:
			return errShutdown
		case <-ticker.C:
			if i.store.StopRequested(i.machineTag) {
				return errShutdown
			}
			if !i.throttle.Throttled() {
				i.logger.Info().Msg("Throttle cleared, resuming")
				return nil
			}
		}
	}
}

func (i *Instance) stopRequested(ctx context.Context) bool {
	select {
	case <-i.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
	}
	return i.store.StopRequested(i.machineTag)
}

// begin marks the instance running and starts the heartbeat.
func (i *Instance) begin() {
	i.bump(func(st *types.InstanceStatus) {
		st.Running = true
		st.StartedAt = time.Now()
	})
	i.writeStatus()
	go i.heartbeatLoop()
}

// finish stops the heartbeat and leaves a final status file behind so
// the fleet view shows the run's totals after exit.
func (i *Instance) finish() {
	i.Stop()
	close(i.hbCh)
	i.bump(func(st *types.InstanceStatus) { st.Running = false })
	i.writeStatus()
	i.publish(events.EventInstanceStopped, map[string]string{"instance_id": i.id})
}

func (i *Instance) heartbeatLoop() {
	ticker := time.NewTicker(i.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			i.writeStatus()
		case <-i.hbCh:
			return
		}
	}
}

func (i *Instance) bump(mutate func(*types.InstanceStatus)) {
	i.mu.Lock()
	mutate(&i.status)
	i.mu.Unlock()
}

func (i *Instance) writeStatus() {
	i.mu.Lock()
	st := i.status
	i.mu.Unlock()
	st.UpdatedAt = time.Now()

	if err := i.store.WriteInstanceStatus(&st); err != nil {
		i.logger.Debug().Err(err).Msg("Heartbeat write failed")
	}
}

// Status returns a copy of the instance's current status record.
func (i *Instance) Status() types.InstanceStatus {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

func (i *Instance) publish(typ events.EventType, metadata map[string]string) {
	if i.broker == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["phase"] = metrics.Phase(i.proc.Phase())
	i.broker.Publish(&events.Event{Type: typ, Metadata: metadata})
}

func (i *Instance) logSummary(s *Summary) {
	i.logger.Info().
		Int("processed", s.Processed).
		Int("failed", s.Failed).
		Int("deferred", s.Deferred).
		Int("skipped", s.Skipped).
		Bool("stopped", s.Stopped).
		Msg("Instance finished")
}
