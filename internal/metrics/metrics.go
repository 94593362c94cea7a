package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for bus pass determinations.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	// Determination outcomes: issued, no_result, failed
	Outcomes *prometheus.CounterVec

	// Issued passes by result type
	Issued *prometheus.CounterVec

	// Candidate results dropped because an earlier one was selected
	DiscardedResults prometheus.Counter

	// Rule firings per determination
	Firings prometheus.Histogram

	// Full determination latency, insert through dispose
	DetermineLatency prometheus.Histogram
}

// New creates a Metrics instance registered with reg.
// A nil reg creates metrics that are not registered anywhere.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "buspass_determinations_total",
			Help: "Total determinations by outcome",
		}, []string{"outcome"}),

		Issued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "buspass_passes_issued_total",
			Help: "Total passes issued by result type",
		}, []string{"type"}),

		DiscardedResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "buspass_discarded_results_total",
			Help: "Qualifying result facts dropped in favour of the first inserted one",
		}),

		Firings: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "buspass_rule_firings",
			Help:    "Rule firings per determination",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 64, 256, 1024},
		}),

		DetermineLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "buspass_determine_duration_seconds",
			Help:    "Duration of a full determination",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}),
	}
}

// IncrementOutcome records a determination outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

// IncrementIssued records an issued pass of the given type.
func (m *Metrics) IncrementIssued(resultType string) {
	if m != nil {
		m.Issued.WithLabelValues(resultType).Inc()
	}
}

// AddDiscarded records qualifying results that were not selected.
func (m *Metrics) AddDiscarded(n int) {
	if m != nil && n > 0 {
		m.DiscardedResults.Add(float64(n))
	}
}

// ObserveFirings records the number of rule firings in one determination.
func (m *Metrics) ObserveFirings(n int) {
	if m != nil {
		m.Firings.Observe(float64(n))
	}
}

// ObserveDetermineLatency records the total determination duration.
func (m *Metrics) ObserveDetermineLatency(d time.Duration) {
	if m != nil {
		m.DetermineLatency.Observe(d.Seconds())
	}
}
