// Package metrics bundles the Prometheus collectors shared by the crawler components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal prometheus.Counter
	ItemsDroppedTotal *prometheus.CounterVec
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	RotationsTotal    *prometheus.CounterVec
	ProbesTotal       *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
	SnapshotItems     *prometheus.GaugeVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapmenu_requests_total",
			Help: "Total HTTP requests issued by the crawler.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tapmenu_request_duration_seconds",
			Help:    "HTTP request latency for crawler requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapmenu_items_scraped_total",
			Help: "Total number of beers parsed from detail pages.",
		},
	)
	itemsDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapmenu_items_dropped_total",
			Help: "Total number of detail pages discarded, by reason.",
		},
		[]string{"reason"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapmenu_retries_total",
			Help: "Total number of retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapmenu_errors_total",
			Help: "Total number of request errors by type.",
		},
		[]string{"error_type"},
	)
	rotations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapmenu_proxy_rotations_total",
			Help: "Proxy rotations by outcome.",
		},
		[]string{"outcome"},
	)
	probes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapmenu_proxy_probes_total",
			Help: "Proxy candidate probes by result.",
		},
		[]string{"result"},
	)
	cycleDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tapmenu_cycle_duration_seconds",
			Help:    "Wall time of a full poll cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	snapshotItems := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tapmenu_snapshot_items",
			Help: "Number of beers in the current snapshot of each list.",
		},
		[]string{"list"},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, itemsDropped, retries,
		errorsTotal, rotations, probes, cycleDuration, snapshotItems)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		ItemsDroppedTotal: itemsDropped,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		RotationsTotal:    rotations,
		ProbesTotal:       probes,
		CycleDuration:     cycleDuration,
		SnapshotItems:     snapshotItems,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncItems increments the items scraped counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

// IncDropped increments the dropped items counter for a reason label.
func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.ItemsDroppedTotal.WithLabelValues(reason).Inc()
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncRotation records the outcome of a proxy rotation.
func (m *Metrics) IncRotation(outcome string) {
	if m == nil {
		return
	}
	m.RotationsTotal.WithLabelValues(outcome).Inc()
}

// IncProbe records a single proxy probe.
func (m *Metrics) IncProbe(result string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
}

// ObserveCycle records a poll cycle duration.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

// SetSnapshotSize publishes the size of a list's snapshot.
func (m *Metrics) SetSnapshotSize(list string, n int) {
	if m == nil {
		return
	}
	m.SnapshotItems.WithLabelValues(list).Set(float64(n))
}
