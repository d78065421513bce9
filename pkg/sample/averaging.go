package sample

import "time"

// NewAveragingConverter returns a decimating stage: every n consecutive
// samples are replaced by their mean, stamped with the time of the last of
// them. A partial group is flushed when the input closes. Energy computed
// from the output matches the input since the mean power is kept.
func NewAveragingConverter(n int, bufSize int) func(in <-chan Sample) <-chan Sample {
	n = max(n, 1)
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan Sample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			var acc accumulator
			for s := range in {
				acc.add(s)
				if acc.n < n {
					continue
				}
				out <- acc.mean()
				acc = accumulator{}
			}
			if acc.n > 0 {
				out <- acc.mean()
			}
		}()

		return out
	}
}

// accumulator sums a group of samples in float64 so long groups of small
// currents do not lose precision.
type accumulator struct {
	n       int
	last    time.Time
	v, i, p float64
}

func (a *accumulator) add(s Sample) {
	a.n++
	a.last = s.Timestamp
	a.v += float64(s.Voltage)
	a.i += float64(s.Current)
	a.p += float64(s.Power)
}

func (a *accumulator) mean() Sample {
	if a.n == 0 {
		return Sample{}
	}
	n := float64(a.n)
	return Sample{
		Timestamp: a.last,
		Voltage:   float32(a.v / n),
		Current:   float32(a.i / n),
		Power:     float32(a.p / n),
	}
}
