// Package metrics provides lightweight metrics primitives for a sync
// peer: counters, gauges, bounded histograms, and EWMA rate meters, all
// registered by name in a Registry and exportable in Prometheus text
// format. Counter and Gauge are lock-free; Histogram and Meter take a
// short mutex per operation.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing count of events.
type Counter struct {
	name string
	n    atomic.Int64
}

// NewCounter returns a Counter with the given name.
func NewCounter(name string) *Counter {
	return &Counter{name: name}
}

// Inc adds 1 to the counter.
func (c *Counter) Inc() { c.n.Add(1) }

// Add adds n to the counter. Counters are monotone, so a negative n is
// ignored.
func (c *Counter) Add(n int64) {
	if n > 0 {
		c.n.Add(n)
	}
}

// Value returns the current count.
func (c *Counter) Value() int64 { return c.n.Load() }

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// Gauge is an instantaneous value that moves in both directions, such
// as the number of connected peer channels.
type Gauge struct {
	name string
	v    atomic.Int64
}

// NewGauge returns a Gauge with the given name.
func NewGauge(name string) *Gauge {
	return &Gauge{name: name}
}

// Set replaces the gauge value.
func (g *Gauge) Set(v int64) { g.v.Store(v) }

// Inc adds 1 to the gauge.
func (g *Gauge) Inc() { g.v.Add(1) }

// Dec subtracts 1 from the gauge.
func (g *Gauge) Dec() { g.v.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.v.Load() }

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// HistogramSnapshot is a point-in-time summary of a Histogram.
type HistogramSnapshot struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Mean  float64
}

// Histogram tracks the distribution of observed values as count, sum,
// min, and max. It carries no buckets or quantiles; message and filter
// sizes only need order-of-magnitude visibility.
type Histogram struct {
	name string

	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64
}

// NewHistogram returns an empty Histogram with the given name.
func NewHistogram(name string) *Histogram {
	return &Histogram{name: name, min: math.Inf(1), max: math.Inf(-1)}
}

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	h.count++
	h.sum += v
	h.min = math.Min(h.min, v)
	h.max = math.Max(h.max, v)
	h.mu.Unlock()
}

// Snapshot returns the current summary. An unobserved histogram
// snapshots to all zeros.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return HistogramSnapshot{}
	}
	return HistogramSnapshot{
		Count: h.count,
		Sum:   h.sum,
		Min:   h.min,
		Max:   h.max,
		Mean:  h.sum / float64(h.count),
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Mean returns the arithmetic mean of all observations, or 0 before the
// first one.
func (h *Histogram) Mean() float64 { return h.Snapshot().Mean }

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// Timer records an elapsed duration into a Histogram, in milliseconds.
//
//	t := metrics.NewTimer(GenerateLatency)
//	defer t.Stop()
type Timer struct {
	start time.Time
	hist  *Histogram
}

// NewTimer starts timing; Stop records into h.
func NewTimer(h *Histogram) *Timer {
	return &Timer{start: time.Now(), hist: h}
}

// Stop records the elapsed milliseconds into the histogram and returns
// the elapsed duration.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.hist != nil {
		t.hist.Observe(float64(d.Milliseconds()))
	}
	return d
}
