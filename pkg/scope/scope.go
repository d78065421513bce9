// Package scope draws oscilloscope-style voltage, current and power traces.
package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/chewxy/math32"

	"github.com/itohio/pwrlog/pkg/config"
	"github.com/itohio/pwrlog/pkg/meter"
	"github.com/itohio/pwrlog/pkg/sample"
)

// Trace selects one quantity of a sample.
type Trace int

const (
	Voltage Trace = iota
	Current
	Power
)

var traces = [...]struct {
	name  string
	unit  string
	color color.RGBA
}{
	Voltage: {"voltage", "V", color.RGBA{R: 255, G: 165, B: 0, A: 255}},
	Current: {"current", "A", color.RGBA{R: 100, G: 200, B: 255, A: 255}},
	Power:   {"power", "W", color.RGBA{R: 120, G: 220, B: 120, A: 255}},
}

func (t Trace) String() string { return traces[t].name }

// Value returns the traced quantity of s.
func (t Trace) Value(s sample.Sample) float32 {
	switch t {
	case Voltage:
		return s.Voltage
	case Current:
		return s.Current
	default:
		return s.Power
	}
}

// axis is the displayed range of one trace.
type axis struct {
	min, max float32
}

// ScopeWidget is a custom Fyne widget that displays the traces stacked, each
// with its own vertical scale.
type ScopeWidget struct {
	widget.BaseWidget

	cfg *config.Config

	// Data (protected by mu)
	mu             sync.RWMutex
	displaySamples []sample.Sample // reused for downsampling
	stats          meter.Stats
	axes           [len(traces)]axis
	xMin, xMax     time.Time

	maxDisplayPoints int
}

// New creates a new ScopeWidget instance.
func New(cfg *config.Config) *ScopeWidget {
	s := &ScopeWidget{
		cfg:              cfg,
		displaySamples:   make([]sample.Sample, 0, 1000),
		maxDisplayPoints: 1000, // Limit points for efficient rendering
	}
	s.updateAutoScale()
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// UpdateData updates the widget with new measurement data.
// This should be called from the meter callback using fyne.Do().
func (s *ScopeWidget) UpdateData(samples []sample.Sample, stats meter.Stats) {
	s.mu.Lock()
	// Min/max buckets keep short current spikes visible.
	s.displaySamples = sample.DownsampleMinMax(s.displaySamples, samples, s.maxDisplayPoints)
	s.stats = stats
	s.updateAutoScale()
	s.mu.Unlock()

	s.Refresh()
}

// updateAutoScale calculates the axis ranges from the display samples.
func (s *ScopeWidget) updateAutoScale() {
	window := time.Duration(s.cfg.Measurement.WindowSeconds * float64(time.Second))
	if len(s.displaySamples) == 0 {
		for i := range s.axes {
			s.axes[i] = axis{0, 1}
		}
		s.xMin = time.Now()
		s.xMax = s.xMin.Add(window)
		return
	}

	for i := range s.axes {
		s.axes[i] = autoScale(s.displaySamples, Trace(i))
	}

	s.xMin = s.displaySamples[0].Timestamp
	s.xMax = s.displaySamples[len(s.displaySamples)-1].Timestamp
	// Ensure minimum window
	if s.xMax.Sub(s.xMin) < window {
		s.xMax = s.xMin.Add(window)
	}
}

// autoScale returns the range of trace t over samples with a 10% margin.
// Zero stays in range so that small loads are not magnified into noise.
func autoScale(samples []sample.Sample, t Trace) axis {
	lo, hi := float32(0), float32(0)
	for _, s := range samples {
		v := t.Value(s)
		lo = math32.Min(lo, v)
		hi = math32.Max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	margin := span * 0.1
	if lo < 0 {
		lo -= margin
	}
	return axis{lo, hi + margin}
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255}) // Dark background
	return &scopeRenderer{
		scope:   s,
		grid:    grid,
		objects: []fyne.CanvasObject{grid},
	}
}
