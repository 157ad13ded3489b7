package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer is a small convenience wrapper around time.Now for recording
// operation durations to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed duration to h.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed duration to hv under the given
// label values.
func (t *Timer) ObserveDurationVec(hv *prometheus.HistogramVec, labelValues ...string) {
	hv.WithLabelValues(labelValues...).Observe(t.Duration().Seconds())
}
