package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []Sample {
	now := time.Now()
	samples := make([]Sample, n)
	for i := range samples {
		samples[i] = Sample{
			Timestamp: now.Add(time.Duration(i) * 10 * time.Millisecond),
			Voltage:   3.7,
			Current:   float32(i) * 0.01,
			Power:     float32(i) * 0.037,
		}
	}
	return samples
}

func TestDownsampleSamples_NoDownsampling(t *testing.T) {
	samples := ramp(3)

	// Test with nil dst
	result := DownsampleSamples(nil, samples, 10)
	require.Equal(t, 3, len(result))
	assert.Equal(t, samples, result)

	// Test with sufficient capacity dst
	dst := make([]Sample, 0, 10)
	result = DownsampleSamples(dst, samples, 10)
	require.Equal(t, 3, len(result))
	assert.Equal(t, samples, result)
	// Should reuse dst
	assert.Equal(t, cap(dst), cap(result))
}

func TestDownsampleSamples_WithDownsampling(t *testing.T) {
	samples := ramp(100)

	// Downsample to 10 points
	dst := make([]Sample, 0, 20)
	result := DownsampleSamples(dst, samples, 10)
	require.Equal(t, 10, len(result))

	// Should always include first sample
	assert.Equal(t, samples[0], result[0])

	// Check that we got samples from across the range
	assert.GreaterOrEqual(t, result[len(result)-1].Current, float32(0.8)) // Should be in last 20% of range

	// Should reuse dst if capacity sufficient
	assert.Equal(t, 20, cap(result))
}

func TestDownsampleSamples_DestinationReuse(t *testing.T) {
	// First call
	dst := make([]Sample, 0, 10)
	result1 := DownsampleSamples(dst, ramp(2), 10)
	require.Equal(t, 2, len(result1))

	// Second call - should reuse dst
	result2 := DownsampleSamples(result1, ramp(3), 10)
	require.Equal(t, 3, len(result2))

	// Should reuse same underlying array
	assert.Equal(t, cap(result1), cap(result2))
}

func TestDownsampleSamples_EmptyInput(t *testing.T) {
	result := DownsampleSamples(nil, []Sample{}, 10)
	require.Equal(t, 0, len(result))
}

func TestDownsampleMinMax(t *testing.T) {
	samples := ramp(100)
	// a one-sample spike must survive
	samples[42].Power = 100

	result := DownsampleMinMax(nil, samples, 10)
	require.Equal(t, 10, len(result))

	found := false
	for i, s := range result {
		if s.Power == 100 {
			found = true
		}
		if i > 0 {
			assert.False(t, s.Timestamp.Before(result[i-1].Timestamp), "point %d out of order", i)
		}
	}
	assert.True(t, found, "spike was dropped")

	// short input is copied
	assert.Equal(t, samples[:5], DownsampleMinMax(nil, samples[:5], 10))
}
