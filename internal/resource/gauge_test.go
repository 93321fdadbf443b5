package resource

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockMemoryReader returns scripted readings, repeating the last one.
type MockMemoryReader struct {
	Readings [][2]float64
	Err      error
	calls    int
}

func (m *MockMemoryReader) ReadMemory() (float64, float64, error) {
	if m.Err != nil {
		return 0, 0, m.Err
	}
	i := m.calls
	if i >= len(m.Readings) {
		i = len(m.Readings) - 1
	}
	m.calls++
	return m.Readings[i][0], m.Readings[i][1], nil
}

// fakeClock advances by step on every call.
func fakeClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestSample_RingBufferEvictsOldest(t *testing.T) {
	reader := &MockMemoryReader{}
	for i := 1; i <= 5; i++ {
		reader.Readings = append(reader.Readings, [2]float64{float64(i), 100})
	}
	g := NewGauge(Thresholds{MemoryThresholdMB: 1000}, WithReader(reader), WithCapacity(3), WithClock(fakeClock(time.Second)))

	for range 5 {
		g.Sample()
	}

	samples := g.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, 3.0, samples[0].UsedMB)
	assert.Equal(t, 5.0, samples[2].UsedMB)
	assert.InDelta(t, 5.0, samples[2].Percent, 0.001)
}

func TestSample_ReadErrorKeepsPreviousSample(t *testing.T) {
	reader := &MockMemoryReader{Readings: [][2]float64{{10, 100}}}
	g := NewGauge(Thresholds{MemoryThresholdMB: 1000}, WithReader(reader))
	g.Sample()

	reader.Err = errors.New("unreadable")
	s := g.Sample()

	assert.Equal(t, 10.0, s.UsedMB)
	assert.Len(t, g.Samples(), 1)
}

func TestIsUnderPressure(t *testing.T) {
	reader := &MockMemoryReader{Readings: [][2]float64{{50, 100}, {150, 200}}}
	g := NewGauge(Thresholds{MemoryThresholdMB: 100}, WithReader(reader))

	assert.False(t, g.IsUnderPressure())
	assert.True(t, g.IsUnderPressure())
}

func TestGrowthRate(t *testing.T) {
	t.Run("FewerThanTwoSamples", func(t *testing.T) {
		g := NewGauge(Thresholds{MemoryThresholdMB: 100}, WithReader(&MockMemoryReader{Readings: [][2]float64{{10, 100}}}))
		assert.Equal(t, 0.0, g.GrowthRateMBPerSec())
		g.Sample()
		assert.Equal(t, 0.0, g.GrowthRateMBPerSec())
	})

	t.Run("LinearGrowth", func(t *testing.T) {
		reader := &MockMemoryReader{Readings: [][2]float64{{10, 100}, {20, 100}, {30, 100}}}
		g := NewGauge(Thresholds{MemoryThresholdMB: 100}, WithReader(reader), WithClock(fakeClock(time.Second)))
		g.Sample()
		g.Sample()
		g.Sample()

		assert.InDelta(t, 10.0, g.GrowthRateMBPerSec(), 0.001)
	})

	t.Run("ZeroElapsed", func(t *testing.T) {
		reader := &MockMemoryReader{Readings: [][2]float64{{10, 100}, {20, 100}}}
		fixed := time.Now()
		g := NewGauge(Thresholds{MemoryThresholdMB: 100}, WithReader(reader), WithClock(func() time.Time { return fixed }))
		g.Sample()
		g.Sample()

		assert.Equal(t, 0.0, g.GrowthRateMBPerSec())
	})
}

func TestPredictExhaustion(t *testing.T) {
	t.Run("GrowingTowardsThreshold", func(t *testing.T) {
		reader := &MockMemoryReader{Readings: [][2]float64{{10, 200}, {20, 200}}}
		g := NewGauge(Thresholds{MemoryThresholdMB: 50}, WithReader(reader), WithClock(fakeClock(time.Second)))
		g.Sample()
		g.Sample()

		// 30MB left at 10MB/s
		assert.True(t, g.PredictExhaustion(5*time.Second))
		assert.False(t, g.PredictExhaustion(2*time.Second))
	})

	t.Run("FlatUsageNeverExhausts", func(t *testing.T) {
		reader := &MockMemoryReader{Readings: [][2]float64{{20, 200}}}
		g := NewGauge(Thresholds{MemoryThresholdMB: 50}, WithReader(reader), WithClock(fakeClock(time.Second)))
		g.Sample()
		g.Sample()

		assert.False(t, g.PredictExhaustion(time.Hour))
	})

	t.Run("ShrinkingUsage", func(t *testing.T) {
		reader := &MockMemoryReader{Readings: [][2]float64{{40, 200}, {20, 200}}}
		g := NewGauge(Thresholds{MemoryThresholdMB: 50}, WithReader(reader), WithClock(fakeClock(time.Second)))
		g.Sample()
		g.Sample()

		assert.False(t, g.PredictExhaustion(time.Hour))
	})
}

func TestAdaptiveBatchSize(t *testing.T) {
	t.Run("LowOccupancyUnchanged", func(t *testing.T) {
		g := NewGauge(Thresholds{MemoryThresholdMB: 1000}, WithReader(&MockMemoryReader{Readings: [][2]float64{{10, 100}}}))
		assert.Equal(t, 100, g.AdaptiveBatchSize(100, 5))
	})

	t.Run("UnderPressureQuarter", func(t *testing.T) {
		g := NewGauge(Thresholds{MemoryThresholdMB: 1}, WithReader(&MockMemoryReader{Readings: [][2]float64{{10, 100}}}))
		assert.Equal(t, 25, g.AdaptiveBatchSize(100, 5))
	})

	t.Run("InterpolatesInDegradeBand", func(t *testing.T) {
		g := NewGauge(Thresholds{MemoryThresholdMB: 1000}, WithReader(&MockMemoryReader{Readings: [][2]float64{{85, 100}}}))
		assert.Equal(t, 50, g.AdaptiveBatchSize(100, 5))
	})

	t.Run("FlooredAtMinSize", func(t *testing.T) {
		g := NewGauge(Thresholds{MemoryThresholdMB: 1000}, WithReader(&MockMemoryReader{Readings: [][2]float64{{100, 100}}}))
		assert.Equal(t, 5, g.AdaptiveBatchSize(100, 5))
	})

	t.Run("ForcedPressureMonotonicAcrossOccupancy", func(t *testing.T) {
		prev := 100
		for pct := 70; pct <= 100; pct += 5 {
			reader := &MockMemoryReader{Readings: [][2]float64{{float64(pct), 100}}}
			g := NewGauge(Thresholds{MemoryThresholdMB: 1}, WithReader(reader))

			size := g.AdaptiveBatchSize(100, 5)

			assert.GreaterOrEqual(t, size, 5)
			assert.LessOrEqual(t, size, 100)
			assert.LessOrEqual(t, size, prev, "occupancy %d%%", pct)
			prev = size
		}
	})

	t.Run("MonotonicWithoutPressure", func(t *testing.T) {
		prev := 100
		for pct := 0; pct <= 100; pct += 10 {
			reader := &MockMemoryReader{Readings: [][2]float64{{float64(pct), 100}}}
			g := NewGauge(Thresholds{MemoryThresholdMB: 1000}, WithReader(reader))

			size := g.AdaptiveBatchSize(100, 5)
			assert.LessOrEqual(t, size, prev)
			prev = size
		}
	})

	t.Run("MinLargerThanDefault", func(t *testing.T) {
		g := NewGauge(Thresholds{MemoryThresholdMB: 1}, WithReader(&MockMemoryReader{Readings: [][2]float64{{10, 100}}}))
		assert.Equal(t, 10, g.AdaptiveBatchSize(10, 50))
	})
}

func TestShouldSkipNonCritical(t *testing.T) {
	tests := []struct {
		name      string
		used      float64
		total     float64
		threshold float64
		want      bool
	}{
		{"Idle", 10, 100, 1000, false},
		{"HighOccupancy", 90, 100, 1000, true},
		{"AtEightyFive", 85, 100, 1000, false},
		{"OverThreshold", 10, 100, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &MockMemoryReader{Readings: [][2]float64{{tt.used, tt.total}}}
			g := NewGauge(Thresholds{MemoryThresholdMB: tt.threshold}, WithReader(reader))
			assert.Equal(t, tt.want, g.ShouldSkipNonCritical())
		})
	}
}

func TestRuntimeMemoryReader(t *testing.T) {
	used, total, err := RuntimeMemoryReader{}.ReadMemory()
	require.NoError(t, err)
	assert.Greater(t, used, 0.0)
	assert.GreaterOrEqual(t, total, used)
}
