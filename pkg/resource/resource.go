package resource

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"

	"github.com/mailsift/mailsift/pkg/config"
	"github.com/mailsift/mailsift/pkg/events"
	"github.com/mailsift/mailsift/pkg/log"
	"github.com/mailsift/mailsift/pkg/metrics"
)

const (
	gib = 1 << 30

	// safetyFactor discounts the recommended instance count below the
	// raw capacity headroom.
	safetyFactor = 0.8
)

// DiskStatus is one sampled mount point.
type DiskStatus struct {
	Path        string  `json:"path"`
	FreeGiB     float64 `json:"free_gib"`
	TotalGiB    float64 `json:"total_gib"`
	UsedPercent float64 `json:"used_percent"`
}

// Snapshot is one reading of the host's resource signals plus the
// throttle verdict and instance recommendation derived from it.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Hostname  string    `json:"hostname"`

	CPUPercent  float64 `json:"cpu_percent"`
	CPUCores    int     `json:"cpu_cores"`
	RAMPercent  float64 `json:"ram_percent"`
	RAMUsedGiB  float64 `json:"ram_used_gib"`
	RAMTotalGiB float64 `json:"ram_total_gib"`

	// GPU is nil on hosts without a working nvidia-smi.
	GPU *GPUStatus `json:"gpu,omitempty"`

	Disks []DiskStatus `json:"disks,omitempty"`

	Throttled       bool     `json:"throttled"`
	ThrottleReasons []string `json:"throttle_reasons,omitempty"`

	RecommendedInstances int `json:"recommended_instances"`
	MaxSafeInstances     int `json:"max_safe_instances"`
}

// Sampler reads the host's raw resource signals.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// systemSampler reads real signals through gopsutil and nvidia-smi.
type systemSampler struct {
	diskPaths []string
}

func (s *systemSampler) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Timestamp: time.Now()}
	snap.Hostname, _ = os.Hostname()

	percs, err := cpu.Percent(0, false)
	if err != nil {
		return snap, fmt.Errorf("failed to sample cpu: %w", err)
	}
	if len(percs) > 0 {
		snap.CPUPercent = percs[0]
	}
	cores, err := cpu.Counts(true)
	if err != nil {
		return snap, fmt.Errorf("failed to count cpu cores: %w", err)
	}
	snap.CPUCores = cores

	vm, err := mem.VirtualMemory()
	if err != nil {
		return snap, fmt.Errorf("failed to sample memory: %w", err)
	}
	snap.RAMPercent = vm.UsedPercent
	snap.RAMUsedGiB = float64(vm.Used) / gib
	snap.RAMTotalGiB = float64(vm.Total) / gib

	snap.GPU = queryGPU(ctx)

	for _, path := range s.diskPaths {
		usage, err := disk.Usage(path)
		if err != nil {
			// Not every configured mount exists on every machine.
			continue
		}
		snap.Disks = append(snap.Disks, DiskStatus{
			Path:        path,
			FreeGiB:     float64(usage.Free) / gib,
			TotalGiB:    float64(usage.Total) / gib,
			UsedPercent: usage.UsedPercent,
		})
	}

	return snap, nil
}

// Monitor samples resource signals on an interval, maintains the
// throttle state machine, publishes transitions on the event bus and
// keeps the resource gauges current. Workers consult Throttled at
// item boundaries; nothing is interrupted mid-item.
type Monitor struct {
	cfg     config.ResourceConfig
	sampler Sampler
	broker  *events.Broker
	logger  zerolog.Logger

	mu             sync.RWMutex
	throttled      bool
	reasons        []string
	recoveredSince time.Time
	last           Snapshot

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor creates a resource monitor for the given limits.
func NewMonitor(cfg config.ResourceConfig) *Monitor {
	return &Monitor{
		cfg:     cfg,
		sampler: &systemSampler{diskPaths: cfg.DiskPaths},
		logger:  log.WithComponent("resource"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// WithBroker publishes throttle transitions on the given bus.
func (m *Monitor) WithBroker(broker *events.Broker) *Monitor {
	m.broker = broker
	return m
}

// WithSampler replaces the system sampler.
func (m *Monitor) WithSampler(s Sampler) *Monitor {
	m.sampler = s
	return m
}

// Start begins background sampling.
func (m *Monitor) Start() {
	go m.loop()
}

// Stop halts background sampling and waits for the loop to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	interval := time.Duration(m.cfg.SampleInterval)
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := m.Sample(context.Background()); err != nil {
		m.logger.Warn().Err(err).Msg("Resource sample failed")
	}
	for {
		select {
		case <-ticker.C:
			if _, err := m.Sample(context.Background()); err != nil {
				m.logger.Warn().Err(err).Msg("Resource sample failed")
			}
		case <-m.stopCh:
			return
		}
	}
}

// Sample takes one reading, advances the throttle state machine,
// refreshes the gauges and returns the full snapshot. The background
// loop calls it on every tick; the CLI calls it for one-shot views.
func (m *Monitor) Sample(ctx context.Context) (Snapshot, error) {
	snap, err := m.sampler.Sample(ctx)
	if err != nil {
		return snap, err
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}

	snap.RecommendedInstances, snap.MaxSafeInstances = instanceCapacity(&snap)

	m.mu.Lock()
	raised, cleared := m.advance(&snap)
	m.last = snap
	m.mu.Unlock()

	m.record(&snap)

	if raised {
		m.logger.Warn().Strs("reasons", snap.ThrottleReasons).Msg("Throttle raised")
		m.publish(events.EventThrottleRaised, strings.Join(snap.ThrottleReasons, "; "))
	}
	if cleared {
		m.logger.Info().Msg("Resources recovered, throttle cleared")
		m.publish(events.EventThrottleCleared, "")
	}

	return snap, nil
}

// advance moves the throttle state machine one step. Any breach
// raises the throttle immediately; clearing requires every signal
// below the recovery threshold for a full cooldown. Caller holds mu.
func (m *Monitor) advance(snap *Snapshot) (raised, cleared bool) {
	reasons := m.breaches(snap)
	now := snap.Timestamp

	switch {
	case len(reasons) > 0:
		if !m.throttled {
			m.throttled = true
			raised = true
		}
		m.reasons = reasons
		m.recoveredSince = time.Time{}

	case m.throttled && m.recovered(snap):
		if m.recoveredSince.IsZero() {
			m.recoveredSince = now
		}
		if now.Sub(m.recoveredSince) >= time.Duration(m.cfg.Cooldown) {
			m.throttled = false
			m.reasons = nil
			m.recoveredSince = time.Time{}
			cleared = true
		}

	case m.throttled:
		// Below the breach line but not yet below recovery.
		m.recoveredSince = time.Time{}
	}

	snap.Throttled = m.throttled
	snap.ThrottleReasons = m.reasons
	return raised, cleared
}

func (m *Monitor) breaches(snap *Snapshot) []string {
	var reasons []string

	if snap.CPUPercent > m.cfg.MaxCPUPercent {
		reasons = append(reasons, fmt.Sprintf("cpu %.0f%% > %.0f%%", snap.CPUPercent, m.cfg.MaxCPUPercent))
	}
	if snap.RAMPercent > m.cfg.MaxRAMPercent {
		reasons = append(reasons, fmt.Sprintf("ram %.0f%% > %.0f%%", snap.RAMPercent, m.cfg.MaxRAMPercent))
	}
	if snap.GPU != nil {
		if snap.GPU.UtilizationPercent > m.cfg.MaxGPUPercent {
			reasons = append(reasons, fmt.Sprintf("gpu %.0f%% > %.0f%%", snap.GPU.UtilizationPercent, m.cfg.MaxGPUPercent))
		}
		if snap.GPU.MemoryPercent > m.cfg.MaxGPUPercent {
			reasons = append(reasons, fmt.Sprintf("gpu memory %.0f%% > %.0f%%", snap.GPU.MemoryPercent, m.cfg.MaxGPUPercent))
		}
	}
	for _, d := range snap.Disks {
		if d.FreeGiB < m.cfg.MinDiskFreeGiB {
			reasons = append(reasons, fmt.Sprintf("disk %s %.1f GiB free < %.0f GiB", d.Path, d.FreeGiB, m.cfg.MinDiskFreeGiB))
		}
	}

	return reasons
}

func (m *Monitor) recovered(snap *Snapshot) bool {
	threshold := m.cfg.RecoveryPercent
	if snap.CPUPercent >= threshold || snap.RAMPercent >= threshold {
		return false
	}
	if snap.GPU != nil {
		if snap.GPU.UtilizationPercent >= threshold || snap.GPU.MemoryPercent >= threshold {
			return false
		}
	}
	for _, d := range snap.Disks {
		if d.FreeGiB < m.cfg.MinDiskFreeGiB {
			return false
		}
	}
	return true
}

func (m *Monitor) record(snap *Snapshot) {
	metrics.ResourceCPUPercent.Set(snap.CPUPercent)
	metrics.ResourceRAMPercent.Set(snap.RAMPercent)
	if snap.GPU != nil {
		metrics.ResourceGPUPercent.Set(snap.GPU.UtilizationPercent)
	}
	for _, d := range snap.Disks {
		metrics.ResourceDiskFreeBytes.WithLabelValues(d.Path).Set(d.FreeGiB * gib)
	}
	if snap.Throttled {
		metrics.ThrottleActive.Set(1)
	} else {
		metrics.ThrottleActive.Set(0)
	}
	metrics.RecommendedInstances.Set(float64(snap.RecommendedInstances))
}

func (m *Monitor) publish(typ events.EventType, message string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{Type: typ, Message: message})
}

// Throttled reports the current throttle state.
func (m *Monitor) Throttled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.throttled
}

// Last returns the most recent snapshot.
func (m *Monitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// instanceCapacity sizes how many worker instances the host can carry.
// Base capacity is one instance per two cores and per four GiB of RAM;
// the recommendation scales that by current headroom and the safety
// factor, then by GPU headroom when a GPU is present. Never below one:
// a saturated host still makes progress, just slowly.
func instanceCapacity(snap *Snapshot) (recommended, maxSafe int) {
	base := snap.CPUCores / 2
	if ramCap := int(snap.RAMTotalGiB / 4); ramCap < base {
		base = ramCap
	}

	used := snap.CPUPercent
	if snap.RAMPercent > used {
		used = snap.RAMPercent
	}
	headroom := (100 - used) / 100
	if headroom < 0 {
		headroom = 0
	}

	recommended = int(float64(base) * headroom * safetyFactor)
	maxSafe = int(float64(base) * headroom)

	recommended = clampInstances(recommended, snap.CPUCores)
	maxSafe = clampInstances(maxSafe, snap.CPUCores)

	if snap.GPU != nil {
		gpuHeadroom := (100 - snap.GPU.UtilizationPercent) / 100
		if gpuHeadroom < 0 {
			gpuHeadroom = 0
		}
		recommended = int(float64(recommended) * gpuHeadroom)
		if recommended < 1 {
			recommended = 1
		}
	}

	return recommended, maxSafe
}

func clampInstances(n, cores int) int {
	if cores > 0 && n > cores {
		n = cores
	}
	if n < 1 {
		n = 1
	}
	return n
}
