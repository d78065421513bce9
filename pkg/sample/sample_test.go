package sample

import (
	"testing"
	"time"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestADCToVoltage(t *testing.T) {
	tests := []struct {
		name      string
		adc       uint16
		fullScale float32
		vref      float32
		want      float32
	}{
		{
			name:      "zero ADC",
			adc:       0,
			fullScale: 4095,
			vref:      3.3,
			want:      0.0,
		},
		{
			name:      "max ADC",
			adc:       4095,
			fullScale: 4095,
			vref:      3.3,
			want:      3.3,
		},
		{
			name:      "half ADC",
			adc:       2047,
			fullScale: 4095,
			vref:      3.3,
			want:      1.65, // Approximately
		},
		{
			name:      "16 bit",
			adc:       32767,
			fullScale: 65535,
			vref:      5.0,
			want:      2.5, // Approximately
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adcToVoltage(tt.adc, tt.fullScale, tt.vref)
			assert.InDelta(t, tt.want, got, 0.01, "adcToVoltage(%d) = %f, want %f", tt.adc, got, tt.want)
		})
	}
}

func TestVoltageToADC(t *testing.T) {
	assert.Equal(t, uint16(0), voltageToADC(-1, 4095, 1))
	assert.Equal(t, uint16(4095), voltageToADC(2, 4095, 1))
	assert.Equal(t, uint16(2048), voltageToADC(0.5, 4095, 1))
	assert.Equal(t, uint16(0), voltageToADC(0.5, 4095, 0))
}

func TestRawEncoding(t *testing.T) {
	p := AppendRaw(nil, Raw{V: 0x0102, I: 0x0304}, Raw{V: 5, I: 6})
	assert.Equal(t, []byte{0x02, 0x01, 0x04, 0x03, 5, 0, 6, 0}, p)

	got := DecodeRaw(nil, append(p, 0xFF)) // trailing byte ignored
	assert.Equal(t, []Raw{{V: 0x0102, I: 0x0304}, {V: 5, I: 6}}, got)

	dst := make([]Raw, 0, 8)
	got = DecodeRaw(dst, p[:4])
	require.Len(t, got, 1)
	assert.Equal(t, cap(dst), cap(got))
}

func TestFrontendConvert(t *testing.T) {
	fe := NewFrontend(config.FrontendConfig{
		VRef:           1.0,
		Bits:           12,
		VoltageDivider: 10,
		ShuntOhms:      0.5,
		Gains:          []float64{1, 10},
	})

	tests := []struct {
		name    string
		raw     Raw
		gain    uint16
		voltage float32
		current float32
	}{
		{"zero", Raw{}, 0, 0, 0},
		{"full scale unity gain", Raw{V: 4095, I: 4095}, 0, 10, 2},
		{"full scale gain 10", Raw{V: 4095, I: 4095}, 1, 10, 0.2},
		{"unknown gain index", Raw{V: 4095, I: 4095}, 7, 10, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := fe.Convert(tt.raw, tt.gain)
			assert.InDelta(t, tt.voltage, s.Voltage, 1e-4)
			assert.InDelta(t, tt.current, s.Current, 1e-4)
			assert.InDelta(t, tt.voltage*tt.current, s.Power, 1e-3)
		})
	}
}

func TestFrontendRawInverse(t *testing.T) {
	cfg := config.Default()
	fe := NewFrontend(cfg.Frontend)

	raw := fe.Raw(3.7, 0.05, 3)
	s := fe.Convert(raw, 3)
	assert.InDelta(t, 3.7, s.Voltage, 0.01)
	assert.InDelta(t, 0.05, s.Current, 0.001)

	// out of range values clamp
	raw = fe.Raw(1000, -1, 3)
	assert.Equal(t, uint16(4095), raw.V)
	assert.Equal(t, uint16(0), raw.I)
}

func TestNewConverter(t *testing.T) {
	cfg := config.Default()
	cfg.Acquisition.SamplePeriod = time.Millisecond
	fe := NewFrontend(cfg.Frontend)

	in := make(chan Frame, 1)
	out := NewConverter(cfg, 3, 10)(in)

	now := time.Now()
	in <- Frame{
		Seq:       1,
		Timestamp: now,
		Samples:   []Raw{fe.Raw(3, 0.01, 3), fe.Raw(4, 0.02, 3), fe.Raw(5, 0.03, 3)},
	}
	close(in)

	var got []Sample
	for s := range out {
		got = append(got, s)
	}
	require.Len(t, got, 3)

	for i, s := range got {
		assert.InDelta(t, float32(3+i), s.Voltage, 0.02)
		assert.InDelta(t, 0.01*float32(i+1), s.Current, 0.001)
	}
	// the last sample carries the frame arrival time
	assert.True(t, now.Equal(got[2].Timestamp))
	assert.True(t, now.Add(-2*time.Millisecond).Equal(got[0].Timestamp))
}
