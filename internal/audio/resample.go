package audio

import "math"

// Engines expect 16 kHz mono; browser capture commonly arrives at 44.1 or
// 48 kHz. A 31-tap kernel keeps the per-chunk filtering cost flat.
const resampleTaps = 31

// Resample converts samples from srcRate to dstRate by linear interpolation,
// low-pass filtering whichever side runs at the higher rate so neither
// aliasing nor interpolation images reach the output. Same-rate input is
// returned untouched.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		return samples
	}

	cutoff := float64(min(srcRate, dstRate)) / 2.0

	// Rate going down: content above the target Nyquist has to go before
	// interpolation reads it.
	if srcRate > dstRate {
		samples = firFilter(samples, cutoff, float64(srcRate), resampleTaps)
	}

	step := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(samples))/step))
	for i := range out {
		pos := float64(i) * step
		whole := int(pos)
		out[i] = lerp(samples, whole, float32(pos-float64(whole)))
	}

	// Rate going up: interpolation leaves images above the source Nyquist.
	if dstRate > srcRate {
		out = firFilter(out, cutoff, float64(dstRate), resampleTaps)
	}
	return out
}

// firFilter convolves samples with a windowed-sinc kernel. Taps that would
// reach past either end of the input are skipped rather than padded.
func firFilter(samples []float32, cutoff, rate float64, taps int) []float32 {
	kernel := firKernel(cutoff, rate, taps)
	half := taps / 2
	out := make([]float32, len(samples))

	for i := range samples {
		lo := max(0, half-i)
		hi := min(taps, len(samples)-i+half)
		var acc float32
		for k := lo; k < hi; k++ {
			acc += samples[i+k-half] * kernel[k]
		}
		out[i] = acc
	}
	return out
}

// firKernel builds a Blackman-windowed sinc kernel scaled to unity gain at
// DC, so filtering never shifts overall loudness.
func firKernel(cutoff, rate float64, taps int) []float32 {
	fc := cutoff / rate
	half := taps / 2
	kernel := make([]float32, taps)

	var sum float64
	for i := range taps {
		n := float64(i - half)
		sinc := 1.0
		if n != 0 {
			x := 2 * math.Pi * fc * n
			sinc = math.Sin(x) / x
		}
		window := 0.42 -
			0.5*math.Cos(2*math.Pi*float64(i)/float64(taps-1)) +
			0.08*math.Cos(4*math.Pi*float64(i)/float64(taps-1))
		v := sinc * window
		kernel[i] = float32(v)
		sum += v
	}

	scale := float32(1.0 / sum)
	for i := range kernel {
		kernel[i] *= scale
	}
	return kernel
}

// lerp reads between samples whole and whole+1, clamping at the last sample.
func lerp(samples []float32, whole int, frac float32) float32 {
	if whole+1 >= len(samples) {
		return samples[len(samples)-1]
	}
	return samples[whole]*(1-frac) + samples[whole+1]*frac
}
