package metrics

import (
	"time"

	"github.com/mailsift/mailsift/pkg/budget"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/mailsift/mailsift/pkg/types"
)

// freshHeartbeat is how recent an instance's status file must be to
// count it as running.
const freshHeartbeat = 15 * time.Second

// Collector periodically refreshes the pipeline-state gauges from the
// shared work store. Item counters are incremented by the workers
// themselves; the collector covers everything observable at rest.
type Collector struct {
	store    *store.Store
	ledger   *budget.Ledger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector over the work store.
func NewCollector(st *store.Store) *Collector {
	return &Collector{
		store:    st,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// WithBudget adds the external-model ledger so budget gauges refresh.
func (c *Collector) WithBudget(l *budget.Ledger) *Collector {
	c.ledger = l
	return c
}

// WithInterval overrides the refresh interval.
func (c *Collector) WithInterval(d time.Duration) *Collector {
	if d > 0 {
		c.interval = d
	}
	return c
}

// Start begins collecting until Stop.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes every store-derived gauge once.
func (c *Collector) Collect() {
	c.collectPhases()
	c.collectDeferred()
	c.collectInstances()
	c.collectBudget()
}

func (c *Collector) collectPhases() {
	for phase := 1; phase <= types.PhaseCount; phase++ {
		label := Phase(phase)
		if n, err := c.store.CountArtifacts(phase); err == nil {
			ArtifactsTotal.WithLabelValues(label).Set(float64(n))
		}
		if n, err := c.store.CountFailures(phase); err == nil {
			FailuresTotal.WithLabelValues(label).Set(float64(n))
		}
	}
	// Delivery appends to a fifth stream without producing artifacts.
	if n, err := c.store.CountFailures(types.PhaseCount + 1); err == nil {
		FailuresTotal.WithLabelValues(Phase(types.PhaseCount + 1)).Set(float64(n))
	}
}

func (c *Collector) collectDeferred() {
	recs, err := c.store.ReadDeferred()
	if err != nil {
		return
	}
	DeferredTotal.Set(float64(len(recs)))
}

func (c *Collector) collectInstances() {
	statuses, err := c.store.ListInstanceStatuses()
	if err != nil {
		return
	}
	running := 0
	now := time.Now()
	for _, st := range statuses {
		if st.Running && now.Sub(st.UpdatedAt) <= freshHeartbeat {
			running++
		}
	}
	InstancesRunning.Set(float64(running))
}

func (c *Collector) collectBudget() {
	if c.ledger == nil {
		return
	}
	day, err := c.ledger.Today()
	if err != nil {
		return
	}
	BudgetTokensSpent.Set(float64(day.Tokens))
	BudgetCostUSD.Set(day.CostUSD)
}
