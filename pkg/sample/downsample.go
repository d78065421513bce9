package sample

// DownsampleSamples downsamples a slice of samples to a maximum number of points.
// Uses simple decimation to reduce the number of points for display.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
// Returns the destination slice (may be dst if reused, or a new slice if dst was too small).
// If len(samples) <= maxPoints, copies all samples to dst (or allocates if dst is nil/too small).
func DownsampleSamples(dst []Sample, samples []Sample, maxPoints int) []Sample {
	if len(samples) <= maxPoints {
		// Need to copy all samples
		if cap(dst) >= len(samples) {
			dst = dst[:len(samples)]
			copy(dst, samples)
			return dst
		}
		// dst too small, allocate new
		result := make([]Sample, len(samples))
		copy(result, samples)
		return result
	}

	// Need to downsample
	if cap(dst) >= maxPoints {
		// Reuse dst
		dst = dst[:0] // Reset length but keep capacity
	} else {
		// Allocate new slice
		dst = make([]Sample, 0, maxPoints)
	}

	// Calculate step size for decimation
	step := float64(len(samples)) / float64(maxPoints)

	for i := range maxPoints {
		idx := int(float64(i) * step)
		if idx < len(samples) {
			dst = append(dst, samples[idx])
		}
	}

	return dst
}

// DownsampleMinMax reduces samples to at most maxPoints by keeping, for each
// bucket, the samples holding the lowest and the highest power. Unlike
// decimation it keeps short current spikes visible.
func DownsampleMinMax(dst []Sample, samples []Sample, maxPoints int) []Sample {
	if maxPoints < 2 || len(samples) <= maxPoints {
		return DownsampleSamples(dst, samples, max(maxPoints, len(samples)))
	}

	buckets := maxPoints / 2
	if cap(dst) >= 2*buckets {
		dst = dst[:0]
	} else {
		dst = make([]Sample, 0, 2*buckets)
	}

	step := float64(len(samples)) / float64(buckets)
	for b := range buckets {
		lo := int(float64(b) * step)
		hi := min(int(float64(b+1)*step), len(samples))
		if lo >= hi {
			continue
		}
		minIdx, maxIdx := lo, lo
		for i := lo + 1; i < hi; i++ {
			if samples[i].Power < samples[minIdx].Power {
				minIdx = i
			}
			if samples[i].Power > samples[maxIdx].Power {
				maxIdx = i
			}
		}
		// keep time order inside the bucket
		if minIdx > maxIdx {
			minIdx, maxIdx = maxIdx, minIdx
		}
		dst = append(dst, samples[minIdx], samples[maxIdx])
	}

	return dst
}
