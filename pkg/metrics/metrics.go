package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline state, refreshed by the Collector from the work store.
	ArtifactsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailsift_artifacts_total",
			Help: "Finished artifacts by producing phase",
		},
		[]string{"phase"},
	)

	FailuresTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailsift_failures_total",
			Help: "Length of each phase's failure stream",
		},
		[]string{"phase"},
	)

	DeferredTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsift_deferred_total",
			Help: "Items in the budget-deferred queue",
		},
	)

	InstancesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsift_instances_running",
			Help: "Worker instances with a fresh heartbeat",
		},
	)

	// Per-item outcomes, incremented by worker instances.
	ItemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_items_processed_total",
			Help: "Items finished with an artifact, by phase",
		},
		[]string{"phase"},
	)

	ItemsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_items_failed_total",
			Help: "Items routed to a failure stream, by phase and reason",
		},
		[]string{"phase", "reason"},
	)

	ItemsDeferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_items_deferred_total",
			Help: "Items deferred by budget or rate limits, by phase",
		},
		[]string{"phase"},
	)

	ItemDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "mailsift_item_duration_seconds",
			Help: "Per-item processing time, by phase",
			// OCR and model calls stretch into minutes.
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"phase"},
	)

	// Resource monitor signals.
	ResourceCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsift_resource_cpu_percent",
			Help: "Sampled CPU utilization",
		},
	)

	ResourceRAMPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsift_resource_ram_percent",
			Help: "Sampled RAM utilization",
		},
	)

	ResourceGPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsift_resource_gpu_percent",
			Help: "Sampled GPU utilization, 0 when no GPU is visible",
		},
	)

	ResourceDiskFreeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mailsift_resource_disk_free_bytes",
			Help: "Free bytes per watched path",
		},
		[]string{"path"},
	)

	ThrottleActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsift_throttle_active",
			Help: "Whether the resource throttle is raised (1) or clear (0)",
		},
	)

	RecommendedInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsift_recommended_instances",
			Help: "Instance count the resource monitor currently recommends",
		},
	)

	// Delivery outcomes per pass.
	DeliveryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_delivery_outcomes_total",
			Help: "Delivery results by outcome (delivered, updated, skipped, failed)",
		},
		[]string{"outcome"},
	)

	// External-model budget, refreshed by the Collector.
	BudgetTokensSpent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsift_budget_tokens_spent",
			Help: "Tokens spent against today's external-model budget",
		},
	)

	BudgetCostUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsift_budget_cost_usd",
			Help: "Estimated cost in USD of today's external-model usage",
		},
	)

	// Event bus visibility.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsift_events_total",
			Help: "Events published on the bus, by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(ArtifactsTotal)
	prometheus.MustRegister(FailuresTotal)
	prometheus.MustRegister(DeferredTotal)
	prometheus.MustRegister(InstancesRunning)
	prometheus.MustRegister(ItemsProcessed)
	prometheus.MustRegister(ItemsFailed)
	prometheus.MustRegister(ItemsDeferred)
	prometheus.MustRegister(ItemDuration)
	prometheus.MustRegister(ResourceCPUPercent)
	prometheus.MustRegister(ResourceRAMPercent)
	prometheus.MustRegister(ResourceGPUPercent)
	prometheus.MustRegister(ResourceDiskFreeBytes)
	prometheus.MustRegister(ThrottleActive)
	prometheus.MustRegister(RecommendedInstances)
	prometheus.MustRegister(DeliveryOutcomes)
	prometheus.MustRegister(BudgetTokensSpent)
	prometheus.MustRegister(BudgetCostUSD)
	prometheus.MustRegister(EventsTotal)
}

// Phase formats a phase number as its metric label.
func Phase(phase int) string {
	return strconv.Itoa(phase)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
