package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the suggester's Prometheus collectors
type Metrics struct {
	QueriesTotal      *prometheus.CounterVec
	QueryDuration     *prometheus.HistogramVec
	PartitionFailures *prometheus.CounterVec
	Requeries         prometheus.Counter
	IndexEntries      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		QueriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctxserve_queries_total",
				Help: "Total number of suggestion requests",
			},
			[]string{"mode", "status"},
		),

		QueryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ctxserve_query_duration_seconds",
				Help:    "Duration of suggestion requests across all partitions",
				Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"mode"},
		),

		PartitionFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctxserve_partition_failures_total",
				Help: "Partition queries left out of a merge",
			},
			[]string{"reason"},
		),

		Requeries: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ctxserve_requeries_total",
				Help: "Traversals resumed because duplicates left too few results",
			},
		),

		IndexEntries: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ctxserve_index_entries",
				Help: "Entries per loaded partition",
			},
			[]string{"partition"},
		),
	}
}

// ObserveQuery records one finished request.
func (m *Metrics) ObserveQuery(mode, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(mode, status).Inc()
	m.QueryDuration.WithLabelValues(mode).Observe(took.Seconds())
}

// PartitionFailed records a partition left out of a merge.
func (m *Metrics) PartitionFailed(reason string) {
	if m == nil {
		return
	}
	m.PartitionFailures.WithLabelValues(reason).Inc()
}

// Requeried records resumed traversals.
func (m *Metrics) Requeried(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Requeries.Add(float64(n))
}

// SetIndexEntries publishes the size of a partition.
func (m *Metrics) SetIndexEntries(partition string, n int) {
	if m == nil {
		return
	}
	m.IndexEntries.WithLabelValues(partition).Set(float64(n))
}
