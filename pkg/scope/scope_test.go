package scope

import (
	"testing"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/meter"
	"github.com/itohio/pwrlog/pkg/sample"
)

func samples(t0 time.Time, n int) []sample.Sample {
	out := make([]sample.Sample, n)
	for i := range out {
		c := float32(i) * 0.01
		out[i] = sample.Sample{
			Timestamp: t0.Add(time.Duration(i) * time.Millisecond),
			Voltage:   3.7,
			Current:   c,
			Power:     3.7 * c,
		}
	}
	return out
}

func TestTraceValue(t *testing.T) {
	s := sample.Sample{Voltage: 1, Current: 2, Power: 3}
	assert.Equal(t, float32(1), Voltage.Value(s))
	assert.Equal(t, float32(2), Current.Value(s))
	assert.Equal(t, float32(3), Power.Value(s))
	assert.Equal(t, "current", Current.String())
}

func TestAutoScale(t *testing.T) {
	ss := samples(time.Now(), 11) // current 0..0.1

	a := autoScale(ss, Current)
	assert.Equal(t, float32(0), a.min)
	assert.InDelta(t, 0.11, a.max, 1e-6)

	a = autoScale(nil, Voltage)
	assert.Equal(t, axis{0, 0.1}, a)

	ss[3].Current = -0.1
	a = autoScale(ss, Current)
	assert.InDelta(t, -0.12, a.min, 1e-6)
	assert.InDelta(t, 0.12, a.max, 1e-6)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		v    float32
		want string
	}{
		{0, "0A"},
		{2.5, "2.500A"},
		{0.0125, "12.5mA"},
		{-0.0005, "-500.0uA"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatValue(tt.v, "A"))
	}
	assert.Equal(t, "0.50s", formatTime(500*time.Millisecond))
	assert.Equal(t, "2.0s", formatTime(2*time.Second))
}

func TestUpdateData(t *testing.T) {
	test.NewTempApp(t)

	cfg := config.Default()
	cfg.Measurement.WindowSeconds = 1
	s := New(cfg)
	s.maxDisplayPoints = 10

	t0 := time.Now()
	s.UpdateData(samples(t0, 100), meter.Stats{Count: 100})

	s.mu.RLock()
	assert.LessOrEqual(t, len(s.displaySamples), 10)
	assert.Equal(t, t0, s.xMin)
	assert.Equal(t, t0.Add(time.Second), s.xMax, "short data is shown over the full window")
	s.mu.RUnlock()

	r := test.WidgetRenderer(s)
	s.Resize(fyne.NewSize(600, 400))
	r.Refresh()
	require.NotEmpty(t, r.Objects())
	assert.Greater(t, len(r.Objects()), 30)
}
