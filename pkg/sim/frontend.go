package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/pipeline"
	"github.com/itohio/pwrlog/pkg/sample"
)

// Frontend simulates the analog front end and the capture engine. While
// running, it hands one capture buffer of SamplesPerFrame samples to the
// sink every SamplesPerFrame sample periods.
type Frontend struct {
	cfg    config.MockConfig
	conv   *sample.Frontend
	period time.Duration
	n      int
	sink   func([]byte)

	mu      sync.Mutex
	gain    uint16
	current pipeline.CurrentInput
	voltage pipeline.VoltageInput
	paused  bool
	idx     uint64 // samples produced since start
	rng     *rand.Rand

	cancel context.CancelFunc
	done   chan struct{}
}

var _ pipeline.Frontend = (*Frontend)(nil)

// NewFrontend creates a simulated front end feeding sink. The sink is called
// from the capture goroutine and must not retain the buffer.
func NewFrontend(cfg *config.Config, sink func([]byte)) *Frontend {
	return &Frontend{
		cfg:    cfg.Mock,
		conv:   sample.NewFrontend(cfg.Frontend),
		period: cfg.Acquisition.SamplePeriod,
		n:      cfg.Acquisition.SamplesPerFrame,
		sink:   sink,
		rng:    rand.New(rand.NewPCG(1, 2)),
	}
}

func (f *Frontend) SetGain(idx uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gain = idx
}

func (f *Frontend) SelectCurrent(in pipeline.CurrentInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = in
}

func (f *Frontend) SelectVoltage(in pipeline.VoltageInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voltage = in
}

// Pause suspends the capture without losing its timing.
func (f *Frontend) Pause(paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = paused
}

// Running reports whether the capture goroutine runs.
func (f *Frontend) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}

// Start starts the capture goroutine.
func (f *Frontend) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return fmt.Errorf("sim: capture already running")
	}
	if f.period <= 0 || f.n <= 0 {
		return fmt.Errorf("sim: invalid capture timing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	f.idx = 0
	f.paused = false
	go f.run(ctx, f.done)
	return nil
}

// Stop stops the capture and waits for the goroutine to exit, so no
// buffer is delivered after Stop returns.
func (f *Frontend) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel = nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (f *Frontend) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Duration(f.n) * f.period)
	defer ticker.Stop()

	buf := make([]byte, 0, f.n*sample.RawSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var ok bool
			if buf, ok = f.capture(buf[:0]); !ok {
				continue
			}
			// a Stop racing with the tick must win
			if ctx.Err() != nil {
				return
			}
			f.sink(buf)
		}
	}
}

// capture fills one buffer. Nothing is captured while paused.
func (f *Frontend) capture(buf []byte) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.paused {
		f.idx += uint64(f.n)
		return buf, false
	}
	for range f.n {
		v, i := f.waveform(float32(f.idx) * float32(f.period.Seconds()))
		buf = sample.AppendRaw(buf, f.conv.Raw(v, i, f.gain))
		f.idx++
	}
	return buf, true
}

// waveform returns the simulated inputs at time t seconds into the session.
// Grounded inputs read zero.
func (f *Frontend) waveform(t float32) (voltage, current float32) {
	noise := func(scale float64) float32 {
		return float32(f.rng.NormFloat64() * f.cfg.NoiseLevel * scale)
	}

	if f.voltage == pipeline.VoltageLive {
		voltage = float32(f.cfg.Voltage) + noise(f.cfg.Voltage)
	}
	if f.current == pipeline.CurrentShunt {
		phase := 2 * math32.Pi * t
		if p := float32(f.cfg.Period.Seconds()); p > 0 {
			phase /= p
		}
		current = float32(f.cfg.Current) * (1 + float32(f.cfg.Ripple)*math32.Sin(phase))
		current += noise(f.cfg.Current)
	}
	return voltage, current
}
