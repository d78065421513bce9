package meter

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain feeds samples to m through a closed channel and waits for
// ProcessSamples to return.
func drain(t *testing.T, m *Meter, samples ...sample.Sample) {
	t.Helper()
	in := make(chan sample.Sample, len(samples))
	for _, s := range samples {
		in <- s
	}
	close(in)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.ProcessSamples(in)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessSamples did not return after its input closed")
	}
}

func newCountingMeter() (*Meter, *atomic.Int32) {
	m := New(&config.Config{
		Measurement: config.MeasurementConfig{WindowSeconds: 10},
	})
	var n atomic.Int32
	m.OnUpdate(func([]sample.Sample, Stats) { n.Add(1) })
	return m, &n
}

func TestShutdownSilencesCallbacks(t *testing.T) {
	m, calls := newCountingMeter()

	now := time.Now()
	drain(t, m,
		sample.Sample{Timestamp: now, Voltage: 3.3},
		sample.Sample{Timestamp: now.Add(time.Second), Voltage: 3.3, Current: 0.1},
		sample.Sample{Timestamp: now.Add(2 * time.Second), Voltage: 3.3, Current: 0.2},
	)
	require.Equal(t, int32(3), calls.Load())

	// recorded, not reported
	m.processSample(sample.Sample{Timestamp: now.Add(3 * time.Second), Current: 1})
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, m.Samples(), 4)
}

func TestResetShutdownResumesCallbacks(t *testing.T) {
	m, calls := newCountingMeter()

	now := time.Now()
	drain(t, m,
		sample.Sample{Timestamp: now, Current: 0.1},
		sample.Sample{Timestamp: now.Add(100 * time.Millisecond), Current: 0.2},
	)
	first := calls.Load()

	// a closed chain stays silent until reset
	drain(t, m, sample.Sample{Timestamp: now.Add(200 * time.Millisecond), Current: 0.3})
	assert.Equal(t, first, calls.Load())

	m.ResetShutdown()
	drain(t, m,
		sample.Sample{Timestamp: now.Add(300 * time.Millisecond), Current: 0.3},
		sample.Sample{Timestamp: now.Add(400 * time.Millisecond), Current: 0.4},
	)
	assert.Equal(t, first+2, calls.Load())
}
