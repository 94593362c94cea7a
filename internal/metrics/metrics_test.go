package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementOutcome("issued")
	m.IncrementOutcome("issued")
	m.IncrementOutcome("no_result")
	m.IncrementIssued("SeniorPass")
	m.AddDiscarded(2)
	m.AddDiscarded(0)
	m.ObserveFirings(3)
	m.ObserveDetermineLatency(2 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("no_result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Issued.WithLabelValues("SeniorPass")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DiscardedResults))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "buspass_rule_firings")
	assert.Contains(t, names, "buspass_determine_duration_seconds")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncrementOutcome("issued")
		m.IncrementIssued("SeniorPass")
		m.AddDiscarded(1)
		m.ObserveFirings(1)
		m.ObserveDetermineLatency(time.Millisecond)
	})
}

func TestNew_Unregistered(t *testing.T) {
	// Two unregistered instances do not collide.
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
