package metrics

import (
	"math"
	"sync"
	"time"
)

// meterTick is the EWMA decay interval.
const meterTick = 5 * time.Second

// MeterSnapshot is a point-in-time summary of a Meter.
type MeterSnapshot struct {
	Count    int64
	Rate1    float64
	Rate5    float64
	RateMean float64
}

// Meter measures the rate of events per second as 1- and 5-minute
// exponentially weighted moving averages plus a lifetime mean, in the
// style of Unix load averages. Decay happens lazily: each Mark or read
// advances the EWMAs by however many tick intervals have elapsed, so no
// background goroutine is needed.
type Meter struct {
	name string

	mu        sync.Mutex
	count     int64
	uncounted int64
	rate1     ewma
	rate5     ewma
	start     time.Time
	lastTick  time.Time
}

// ewma is one exponentially weighted moving average, decayed by the
// owning Meter under its lock.
type ewma struct {
	alpha float64
	rate  float64
	warm  bool
}

func (e *ewma) tick(instantRate float64) {
	if e.warm {
		e.rate += e.alpha * (instantRate - e.rate)
	} else {
		e.rate = instantRate
		e.warm = true
	}
}

// alphaFor derives the decay factor for an averaging window.
func alphaFor(window time.Duration) float64 {
	return 1 - math.Exp(-meterTick.Seconds()/window.Seconds())
}

// NewMeter returns a Meter with the given name.
func NewMeter(name string) *Meter {
	now := time.Now()
	return &Meter{
		name:     name,
		rate1:    ewma{alpha: alphaFor(time.Minute)},
		rate5:    ewma{alpha: alphaFor(5 * time.Minute)},
		start:    now,
		lastTick: now,
	}
}

// Mark records n events.
func (m *Meter) Mark(n int64) {
	m.mu.Lock()
	m.advance(time.Now())
	m.count += n
	m.uncounted += n
	m.mu.Unlock()
}

// advance decays the EWMAs for every full tick interval elapsed since
// lastTick. Caller holds mu.
func (m *Meter) advance(now time.Time) {
	for now.Sub(m.lastTick) >= meterTick {
		instant := float64(m.uncounted) / meterTick.Seconds()
		m.uncounted = 0
		m.rate1.tick(instant)
		m.rate5.tick(instant)
		m.lastTick = m.lastTick.Add(meterTick)
	}
}

// Snapshot returns the current rates.
func (m *Meter) Snapshot() MeterSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.advance(now)
	snap := MeterSnapshot{
		Count: m.count,
		Rate1: m.rate1.rate,
		Rate5: m.rate5.rate,
	}
	if elapsed := now.Sub(m.start).Seconds(); elapsed > 0 {
		snap.RateMean = float64(m.count) / elapsed
	}
	return snap
}

// Count returns the total events recorded.
func (m *Meter) Count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Name returns the metric name.
func (m *Meter) Name() string { return m.name }
