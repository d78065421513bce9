package sample

import (
	"encoding/binary"
	"log"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/pwrlog/pkg/config"
)

// RawSize is the encoded size of a Raw sample in bytes.
const RawSize = 4

// Raw is a sample as captured by the acquisition hardware.
type Raw struct {
	V uint16 // Voltage channel ADC reading
	I uint16 // Current channel ADC reading
}

// AppendRaw appends the little-endian encoding of samples to dst.
func AppendRaw(dst []byte, samples ...Raw) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, s.V)
		dst = binary.LittleEndian.AppendUint16(dst, s.I)
	}
	return dst
}

// DecodeRaw decodes p into dst, reusing its capacity. A trailing partial
// sample is ignored.
func DecodeRaw(dst []Raw, p []byte) []Raw {
	dst = dst[:0]
	for ; len(p) >= RawSize; p = p[RawSize:] {
		dst = append(dst, Raw{
			V: binary.LittleEndian.Uint16(p[0:2]),
			I: binary.LittleEndian.Uint16(p[2:4]),
		})
	}
	return dst
}

// Frame is a decoded samples frame.
type Frame struct {
	Seq       uint32
	Timestamp time.Time // Arrival time of the frame
	Samples   []Raw
}

// Sample represents a processed measurement sample with physical values.
type Sample struct {
	Timestamp time.Time
	Voltage   float32 // Supply voltage (V)
	Current   float32 // Load current (A)
	Power     float32 // Load power (W)
}

// Frontend converts between raw readings and physical values.
type Frontend struct {
	fullScale float32
	vref      float32
	divider   float32
	shunt     float32
	gains     []float32
}

// NewFrontend returns a converter for the given analog front end.
func NewFrontend(cfg config.FrontendConfig) *Frontend {
	bits := cfg.Bits
	if bits <= 0 || bits > 16 {
		bits = 12
	}
	f := &Frontend{
		fullScale: float32(uint32(1)<<bits - 1),
		vref:      float32(cfg.VRef),
		divider:   float32(cfg.VoltageDivider),
		shunt:     float32(cfg.ShuntOhms),
		gains:     make([]float32, len(cfg.Gains)),
	}
	for i, g := range cfg.Gains {
		f.gains[i] = float32(g)
	}
	return f
}

// Gain returns the amplification of the current channel for a gain index.
// Unknown indices select unity gain.
func (f *Frontend) Gain(idx uint16) float32 {
	if int(idx) < len(f.gains) && f.gains[idx] > 0 {
		return f.gains[idx]
	}
	return 1
}

// Convert converts a raw sample captured with the given gain index.
func (f *Frontend) Convert(r Raw, gain uint16) Sample {
	v := adcToVoltage(r.V, f.fullScale, f.vref) * f.divider
	i := float32(0)
	if f.shunt > 0 {
		i = adcToVoltage(r.I, f.fullScale, f.vref) / (f.Gain(gain) * f.shunt)
	}
	return Sample{
		Voltage: v,
		Current: i,
		Power:   v * i,
	}
}

// Raw converts physical values to the readings the front end would produce,
// clamped to the ADC range.
func (f *Frontend) Raw(voltage, current float32, gain uint16) Raw {
	v := voltage / f.divider
	i := current * f.Gain(gain) * f.shunt
	return Raw{
		V: voltageToADC(v, f.fullScale, f.vref),
		I: voltageToADC(i, f.fullScale, f.vref),
	}
}

// Converter is a function type that converts a Frame channel to Sample channel.
type Converter func(in <-chan Frame) <-chan Sample

// NewConverter creates a converter function that transforms frames captured
// with the given gain index into timestamped samples spaced by the sample
// period.
func NewConverter(cfg *config.Config, gain uint16, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}
	fe := NewFrontend(cfg.Frontend)
	period := cfg.Acquisition.SamplePeriod

	return func(in <-chan Frame) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			for frame := range in {
				// the frame arrives after its last sample was taken
				t0 := frame.Timestamp.Add(-time.Duration(len(frame.Samples)) * period)
				for k, raw := range frame.Samples {
					s := fe.Convert(raw, gain)
					s.Timestamp = t0.Add(time.Duration(k+1) * period)

					select {
					case out <- s:
					case <-time.After(time.Second):
						log.Printf("Converter output channel full, dropping sample")
					}
				}
			}
		}()

		return out
	}
}

// adcToVoltage converts an ADC reading to voltage.
func adcToVoltage(adc uint16, fullScale, vref float32) float32 {
	return (float32(adc) / fullScale) * vref
}

// voltageToADC converts a voltage to the nearest ADC reading.
func voltageToADC(v, fullScale, vref float32) uint16 {
	if vref <= 0 {
		return 0
	}
	adc := math32.Round(v / vref * fullScale)
	adc = math32.Max(0, math32.Min(adc, fullScale))
	return uint16(adc)
}
