package scope

import (
	"fmt"
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/chewxy/math32"

	"github.com/itohio/pwrlog/pkg/meter"
	"github.com/itohio/pwrlog/pkg/sample"
)

const (
	marginLeft   = float32(60)
	marginRight  = float32(20)
	marginTop    = float32(24)
	marginBottom = float32(30)
	paneGap      = float32(12)
)

var (
	gridColor  = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	statsColor = color.RGBA{R: 200, G: 200, B: 200, A: 255}
)

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope *ScopeWidget

	// Background
	grid *canvas.Rectangle

	// Objects list for Fyne
	objects []fyne.CanvasObject

	// Track last size to detect changes
	lastSize fyne.Size
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 360)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.grid.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// pane is the plot area of one trace.
type pane struct {
	x, y, w, h float32
	axis       axis
	xMin, xMax time.Time
}

func (p pane) pos(t time.Time, v float32) fyne.Position {
	x := p.x + float32(t.Sub(p.xMin).Seconds()/p.xMax.Sub(p.xMin).Seconds())*p.w
	y := p.y + p.h - (v-p.axis.min)/(p.axis.max-p.axis.min)*p.h
	return fyne.NewPos(x, y)
}

// Refresh updates the widget display.
func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	samples := r.scope.displaySamples
	stats := r.scope.stats
	axes := r.scope.axes
	xMin := r.scope.xMin
	xMax := r.scope.xMax
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	r.objects = []fyne.CanvasObject{r.grid}

	plotWidth := size.Width - marginLeft - marginRight
	total := size.Height - marginTop - marginBottom - paneGap*float32(len(axes)-1)
	paneHeight := total / float32(len(axes))

	for i := range axes {
		p := pane{
			x:    marginLeft,
			y:    marginTop + float32(i)*(paneHeight+paneGap),
			w:    plotWidth,
			h:    paneHeight,
			axis: axes[i],
			xMin: xMin,
			xMax: xMax,
		}
		r.drawGrid(p, Trace(i), i == len(axes)-1)
		r.drawTrace(p, Trace(i), samples)
	}
	r.drawStats(stats)
}

// drawGrid draws the grid of one pane. Time labels go under the last pane.
func (r *scopeRenderer) drawGrid(p pane, t Trace, timeLabels bool) {
	const numHLines = 4
	for i := range numHLines + 1 {
		y := p.y + float32(i)*p.h/numHLines
		r.line(gridColor, 1, fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y))

		value := p.axis.max - float32(i)*(p.axis.max-p.axis.min)/numHLines
		r.text(formatValue(value, traces[t].unit), labelColor, 10, fyne.TextAlignTrailing, fyne.NewPos(p.x-5, y-6))
	}

	const numVLines = 10
	for i := range numVLines + 1 {
		x := p.x + float32(i)*p.w/numVLines
		r.line(gridColor, 1, fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.h))

		if timeLabels {
			offset := time.Duration(float64(i) * float64(p.xMax.Sub(p.xMin)) / numVLines)
			r.text(formatTime(offset), labelColor, 10, fyne.TextAlignCenter, fyne.NewPos(x-20, p.y+p.h+5))
		}
	}

	r.text(t.String(), traces[t].color, 10, fyne.TextAlignLeading, fyne.NewPos(p.x+4, p.y+2))
}

// drawTrace draws the connected samples of one trace.
func (r *scopeRenderer) drawTrace(p pane, t Trace, samples []sample.Sample) {
	if len(samples) < 2 {
		return
	}
	prev := p.pos(samples[0].Timestamp, t.Value(samples[0]))
	for _, s := range samples[1:] {
		next := p.pos(s.Timestamp, t.Value(s))
		r.line(traces[t].color, 1.5, prev, next)
		prev = next
	}
}

// drawStats draws the window statistics above the panes.
func (r *scopeRenderer) drawStats(st meter.Stats) {
	if st.Count == 0 {
		return
	}
	r.text(statsLine(st), statsColor, 11, fyne.TextAlignLeading, fyne.NewPos(marginLeft, 4))
}

func (r *scopeRenderer) line(c color.Color, width float32, a, b fyne.Position) {
	l := canvas.NewLine(c)
	l.Position1 = a
	l.Position2 = b
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

func (r *scopeRenderer) text(s string, c color.Color, size float32, align fyne.TextAlign, pos fyne.Position) {
	t := canvas.NewText(s, c)
	t.TextSize = size
	t.Alignment = align
	t.Move(pos)
	r.objects = append(r.objects, t)
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}

func statsLine(st meter.Stats) string {
	return fmt.Sprintf("V %s  I %s (rms %s, peak %s)  P %s  E %.3f mWh  Q %.3f mAh",
		formatValue(st.MeanVoltage, "V"),
		formatValue(st.MeanCurrent, "A"),
		formatValue(st.RMSCurrent, "A"),
		formatValue(st.PeakCurrent, "A"),
		formatValue(st.MeanPower, "W"),
		st.MilliwattHours(),
		st.MilliampHours(),
	)
}

// formatValue prints v with an SI prefix for small magnitudes.
func formatValue(v float32, unit string) string {
	a := math32.Abs(v)
	switch {
	case a == 0:
		return "0" + unit
	case a < 1e-3:
		return fmt.Sprintf("%.1fu%s", v*1e6, unit)
	case a < 1:
		return fmt.Sprintf("%.1fm%s", v*1e3, unit)
	default:
		return fmt.Sprintf("%.3f%s", v, unit)
	}
}

func formatTime(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
