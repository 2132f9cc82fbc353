package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	assert.False(t, timer.start.IsZero())
	assert.Less(t, time.Since(timer.start), time.Second)
}

func TestTimerDurationIncreases(t *testing.T) {
	timer := NewTimer()

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	time.Sleep(20 * time.Millisecond)
	second := timer.Duration()

	assert.GreaterOrEqual(t, first, 20*time.Millisecond)
	assert.Greater(t, second, first)
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_cycle_seconds",
		Help: "Test histogram",
	})

	NewTimer().ObserveDuration(histogram)

	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_operation_seconds",
		Help: "Test histogram vec",
	}, []string{"operation"})

	NewTimer().ObserveDurationVec(histogramVec, "handle")
	NewTimer().ObserveDurationVec(histogramVec, "dispatch")

	assert.Equal(t, 2, testutil.CollectAndCount(histogramVec))
}

func TestReplicationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReplicationMetrics(reg)

	m.IncrEcPartialReplicationForMisReplicationTotal()
	m.IncrPartialReplicationForMisReplicationTotal()
	m.IncrPartialReplicationForMisReplicationTotal()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EcPartialReplicationCounter()))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PartialReplicationCounter()))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.Len(t, families, 2)
}
