package contact

import (
	"time"

	"github.com/0xmhha/contactstore/internal/constants"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan outcomes used as the "outcome" label
const (
	OutcomeSuccess = "success"
)

// Metrics holds all Prometheus metrics for contact searches
type Metrics struct {
	// Counters (cumulative values)
	ScansTotal     *prometheus.CounterVec
	RecordsVisited prometheus.Counter
	RecordsMatched prometheus.Counter
	RecordsSkipped prometheus.Counter

	// Histograms (distributions)
	ScanDuration prometheus.Histogram
}

// NewMetrics creates and registers all search metrics on reg.
// A nil reg registers on the default registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = constants.MetricsNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	const subsystem = "search"

	return &Metrics{
		ScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scans_total",
			Help:      "Total number of contact searches by outcome",
		}, []string{"outcome"}),
		RecordsVisited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_visited_total",
			Help:      "Total number of records visited by searches",
		}),
		RecordsMatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_matched_total",
			Help:      "Total number of records matched by searches",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_skipped_total",
			Help:      "Total number of malformed records skipped by searches",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scan_duration_seconds",
			Help:      "Contact search duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, // 100μs to 5s
		}),
	}
}

// ObserveScan records one finished search
func (m *Metrics) ObserveScan(outcome string, stats Stats, duration time.Duration) {
	m.ScansTotal.WithLabelValues(outcome).Inc()
	m.RecordsVisited.Add(float64(stats.Visited))
	m.RecordsMatched.Add(float64(stats.Matched))
	m.RecordsSkipped.Add(float64(stats.Skipped))
	m.ScanDuration.Observe(duration.Seconds())
}
