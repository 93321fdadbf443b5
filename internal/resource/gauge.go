// Package resource samples process memory and turns it into scheduling
// decisions: pressure detection, exhaustion prediction, and adaptive batch
// sizing.
package resource

import (
	"runtime"
	"sync"
	"time"
)

const (
	// DefaultCapacity is the number of samples kept for growth estimation.
	DefaultCapacity = 10

	// occupancy band where batch sizes shrink linearly from 100% to 0%
	degradeStartPercent = 70.0
	degradeEndPercent   = 100.0

	// occupancy above which optional work is dropped entirely
	skipPercent = 85.0

	// fraction of the default batch size used under pressure
	pressureScale = 0.25
)

// Snapshot is a single memory reading.
type Snapshot struct {
	UsedMB  float64
	TotalMB float64
	Percent float64
	At      time.Time
}

// Thresholds configures a Gauge. They are fixed for the gauge's lifetime.
type Thresholds struct {
	MemoryThresholdMB   float64
	CPUThreshold        float64
	BackpressureEnabled bool
}

// MemoryReader reports used and total memory in megabytes.
type MemoryReader interface {
	ReadMemory() (usedMB, totalMB float64, err error)
}

// RuntimeMemoryReader reads Go heap statistics.
type RuntimeMemoryReader struct{}

// ReadMemory reports the live heap against the heap reserved from the OS.
func (RuntimeMemoryReader) ReadMemory() (float64, float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	const mb = 1024 * 1024
	return float64(ms.HeapAlloc) / mb, float64(ms.HeapSys) / mb, nil
}

// Gauge keeps a ring buffer of recent memory samples. It is safe for
// concurrent use.
type Gauge struct {
	mu         sync.Mutex
	thresholds Thresholds
	reader     MemoryReader
	now        func() time.Time

	ring  []Snapshot
	head  int
	count int
}

// Option customises a Gauge.
type Option func(*Gauge)

// WithReader replaces the memory source.
func WithReader(r MemoryReader) Option {
	return func(g *Gauge) { g.reader = r }
}

// WithClock replaces the time source used to stamp samples.
func WithClock(now func() time.Time) Option {
	return func(g *Gauge) { g.now = now }
}

// WithCapacity sets the ring buffer size. Values below 2 are raised to 2.
func WithCapacity(n int) Option {
	return func(g *Gauge) {
		if n < 2 {
			n = 2
		}
		g.ring = make([]Snapshot, n)
	}
}

// NewGauge creates a Gauge with the given thresholds.
func NewGauge(th Thresholds, opts ...Option) *Gauge {
	g := &Gauge{
		thresholds: th,
		reader:     RuntimeMemoryReader{},
		now:        time.Now,
		ring:       make([]Snapshot, DefaultCapacity),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Thresholds returns the gauge configuration.
func (g *Gauge) Thresholds() Thresholds {
	return g.thresholds
}

// Sample reads memory and records it, evicting the oldest sample when full.
// A failed read records nothing and returns the previous sample.
func (g *Gauge) Sample() Snapshot {
	used, total, err := g.reader.ReadMemory()

	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil {
		s, _ := g.latestLocked()
		return s
	}

	s := Snapshot{UsedMB: used, TotalMB: total, At: g.now()}
	if total > 0 {
		s.Percent = used / total * 100
	}

	g.ring[g.head] = s
	g.head = (g.head + 1) % len(g.ring)
	if g.count < len(g.ring) {
		g.count++
	}
	return s
}

// Samples returns the buffered samples, oldest first.
func (g *Gauge) Samples() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Snapshot, 0, g.count)
	start := (g.head - g.count + len(g.ring)) % len(g.ring)
	for i := 0; i < g.count; i++ {
		out = append(out, g.ring[(start+i)%len(g.ring)])
	}
	return out
}

// IsUnderPressure samples memory and reports whether usage exceeds the threshold.
func (g *Gauge) IsUnderPressure() bool {
	return g.pressured(g.Sample())
}

// GrowthRateMBPerSec estimates memory growth from the oldest and newest
// buffered samples. It is 0 with fewer than two samples.
func (g *Gauge) GrowthRateMBPerSec() float64 {
	samples := g.Samples()
	if len(samples) < 2 {
		return 0
	}
	oldest, newest := samples[0], samples[len(samples)-1]
	elapsed := newest.At.Sub(oldest.At).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (newest.UsedMB - oldest.UsedMB) / elapsed
}

// PredictExhaustion reports whether, at the current growth rate, usage will
// reach the threshold within the given window.
func (g *Gauge) PredictExhaustion(within time.Duration) bool {
	rate := g.GrowthRateMBPerSec()
	if rate <= 0 {
		return false
	}
	g.mu.Lock()
	latest, ok := g.latestLocked()
	g.mu.Unlock()
	if !ok {
		return false
	}
	secondsLeft := (g.thresholds.MemoryThresholdMB - latest.UsedMB) / rate
	return secondsLeft <= within.Seconds()
}

// AdaptiveBatchSize shrinks defaultSize as memory fills up. Between 70% and
// 100% heap occupancy the size falls linearly to zero; under pressure it is
// capped at a quarter of the default. The result never drops below minSize
// nor exceeds defaultSize.
func (g *Gauge) AdaptiveBatchSize(defaultSize, minSize int) int {
	if defaultSize <= 0 {
		return defaultSize
	}
	if minSize > defaultSize {
		minSize = defaultSize
	}

	s := g.Sample()
	size := float64(defaultSize)

	if s.Percent >= degradeStartPercent {
		factor := 1 - (s.Percent-degradeStartPercent)/(degradeEndPercent-degradeStartPercent)
		if factor < 0 {
			factor = 0
		}
		size = float64(defaultSize) * factor
	}
	if g.pressured(s) {
		size = min(size, float64(defaultSize)*pressureScale)
	}

	n := int(size)
	if n < minSize {
		n = minSize
	}
	if n > defaultSize {
		n = defaultSize
	}
	return n
}

// ShouldSkipNonCritical reports whether optional work should be dropped:
// usage is over the threshold or occupancy is above 85%.
func (g *Gauge) ShouldSkipNonCritical() bool {
	s := g.Sample()
	return g.pressured(s) || s.Percent > skipPercent
}

func (g *Gauge) pressured(s Snapshot) bool {
	return s.UsedMB > g.thresholds.MemoryThresholdMB
}

func (g *Gauge) latestLocked() (Snapshot, bool) {
	if g.count == 0 {
		return Snapshot{}, false
	}
	return g.ring[(g.head-1+len(g.ring))%len(g.ring)], true
}
