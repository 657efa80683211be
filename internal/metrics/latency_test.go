package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTracker(t *testing.T) {
	lt := NewLatencyTracker(100)
	p50, p95, p99 := lt.Percentiles()
	assert.Zero(t, p50+p95+p99, "empty tracker")

	lt.Record(42.5)
	p50, p95, p99 = lt.Percentiles()
	assert.Equal(t, []float64{42.5, 42.5, 42.5}, []float64{p50, p95, p99})

	lt = NewLatencyTracker(1000)
	for i := 1; i <= 100; i++ {
		lt.Record(float64(i))
	}
	p50, p95, p99 = lt.Percentiles()
	assert.InDelta(t, 50.5, p50, 1e-9)
	assert.InDelta(t, 95.05, p95, 1e-9)
	assert.InDelta(t, 99.01, p99, 1e-9)
}

func TestLatencyTracker_Wraparound(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 1; i <= 20; i++ {
		lt.Record(float64(i))
	}
	assert.Equal(t, 10, lt.Count())
	p50, _, _ := lt.Percentiles()
	assert.InDelta(t, 15.5, p50, 1e-9, "only 11..20 retained")
}
