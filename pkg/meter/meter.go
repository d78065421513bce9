package meter

import (
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/sample"
)

var _ PowerMeter = (*Meter)(nil)

// Stats summarizes the samples in the window and the totals since the last
// Reset.
type Stats struct {
	Count       int           // Samples in the window
	Span        time.Duration // Time covered by the window
	MeanVoltage float32       // V
	MeanCurrent float32       // A
	RMSCurrent  float32       // A
	PeakCurrent float32       // A
	MeanPower   float32       // W
	PeakPower   float32       // W

	Energy float64       // Joules since Reset
	Charge float64       // Coulombs since Reset
	Total  time.Duration // Time integrated since Reset
}

// MilliampHours returns the charge in mAh.
func (s Stats) MilliampHours() float64 { return s.Charge / 3.6 }

// MilliwattHours returns the energy in mWh.
func (s Stats) MilliwattHours() float64 { return s.Energy / 3.6 }

// PowerMeter processes samples, keeps a time window of them and integrates
// energy and charge.
type PowerMeter interface {
	ProcessSamples(input <-chan sample.Sample)
	Samples() []sample.Sample                             // Current window, oldest first
	Stats() Stats                                         // Window statistics and totals
	OnUpdate(func(samples []sample.Sample, stats Stats)) // Register callback for updates
}

// Meter implements PowerMeter.
// Samples are a FIFO ordered first to last and removed by timestamp once
// they fall outside the window.
type Meter struct {
	window time.Duration

	samples []sample.Sample
	last    sample.Sample
	started bool

	// Running totals over the window, kept in float64 to bound drift.
	sumV, sumI, sumI2, sumP float64

	energy float64
	charge float64
	total  time.Duration

	mu sync.RWMutex

	callbacks []func(samples []sample.Sample, stats Stats)
	cbMu      sync.RWMutex

	// Set when the input channel closes, prevents further callbacks
	shutdown bool
}

// New creates a new Meter.
func New(cfg *config.Config) *Meter {
	return &Meter{
		window: time.Duration(cfg.Measurement.WindowSeconds * float64(time.Second)),
	}
}

// ProcessSamples processes samples from the input channel until it closes.
// Once closed, no further callbacks are sent.
func (m *Meter) ProcessSamples(input <-chan sample.Sample) {
	for s := range input {
		m.processSample(s)
	}
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

func (m *Meter) processSample(s sample.Sample) {
	m.mu.Lock()

	// Trapezoid integration of the interval since the previous sample.
	if m.started {
		dt := s.Timestamp.Sub(m.last.Timestamp)
		if dt > 0 {
			sec := dt.Seconds()
			m.energy += float64(m.last.Power+s.Power) / 2 * sec
			m.charge += float64(m.last.Current+s.Current) / 2 * sec
			m.total += dt
		}
	}
	m.last = s
	m.started = true

	m.samples = append(m.samples, s)
	m.add(s, 1)

	cutoff := s.Timestamp.Add(-m.window)
	n := 0
	for n < len(m.samples) && !m.samples[n].Timestamp.After(cutoff) {
		m.add(m.samples[n], -1)
		n++
	}
	if n > 0 {
		m.samples = append(m.samples[:0], m.samples[n:]...)
	}

	notify := !m.shutdown
	m.mu.Unlock()

	if notify {
		m.notifyCallbacks()
	}
}

func (m *Meter) add(s sample.Sample, sign float64) {
	m.sumV += sign * float64(s.Voltage)
	m.sumI += sign * float64(s.Current)
	m.sumI2 += sign * float64(s.Current) * float64(s.Current)
	m.sumP += sign * float64(s.Power)
}

// Samples returns a copy of the current samples window.
func (m *Meter) Samples() []sample.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]sample.Sample, len(m.samples))
	copy(result, m.samples)
	return result
}

// Stats returns the statistics of the current window.
func (m *Meter) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats()
}

func (m *Meter) stats() Stats {
	st := Stats{
		Count:  len(m.samples),
		Energy: m.energy,
		Charge: m.charge,
		Total:  m.total,
	}
	if st.Count == 0 {
		return st
	}

	n := float64(st.Count)
	st.Span = m.samples[st.Count-1].Timestamp.Sub(m.samples[0].Timestamp)
	st.MeanVoltage = float32(m.sumV / n)
	st.MeanCurrent = float32(m.sumI / n)
	st.MeanPower = float32(m.sumP / n)
	st.RMSCurrent = math32.Sqrt(math32.Max(float32(m.sumI2/n), 0))

	st.PeakCurrent = math32.Inf(-1)
	st.PeakPower = math32.Inf(-1)
	for _, s := range m.samples {
		st.PeakCurrent = math32.Max(st.PeakCurrent, s.Current)
		st.PeakPower = math32.Max(st.PeakPower, s.Power)
	}
	return st
}

// Reset clears the window and the totals.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = m.samples[:0]
	m.started = false
	m.sumV, m.sumI, m.sumI2, m.sumP = 0, 0, 0, 0
	m.energy, m.charge, m.total = 0, 0, 0
}

// OnUpdate registers a callback called after every sample.
// The callback should copy data quickly and return as fast as possible.
func (m *Meter) OnUpdate(callback func(samples []sample.Sample, stats Stats)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ResetShutdown allows callbacks to be sent again.
// This should be called before starting a new measurement chain.
func (m *Meter) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

// notifyCallbacks copies the data under the read lock, then calls the
// callbacks without holding any lock.
func (m *Meter) notifyCallbacks() {
	m.mu.RLock()
	samples := make([]sample.Sample, len(m.samples))
	copy(samples, m.samples)
	stats := m.stats()
	m.mu.RUnlock()

	m.cbMu.RLock()
	callbacks := make([]func([]sample.Sample, Stats), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(samples, stats)
		}
	}
}
