package filter

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
)

// DesignLowPass returns a windowed-sinc low-pass filter with a Hamming
// window, normalised to unity gain at DC. cutoff is relative to the sample
// rate (0 < cutoff < 0.5).
func DesignLowPass(taps int, cutoff float64) []float64 {
	h := make([]float64, taps)
	m := float64(taps-1) / 2

	var sum float64
	for i := range h {
		x := float64(i) - m
		var v float64
		if x == 0 {
			v = 2 * cutoff
		} else {
			v = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		if taps > 1 {
			v *= 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(taps-1))
		}
		h[i] = v
		sum += v
	}
	for i := range h {
		h[i] /= sum
	}
	return h
}

// DesignBandPass returns float32 coefficients passing lowHz..highHz at the
// sample rate fs. It is the difference of two unity-gain low-pass designs,
// so its DC gain is zero.
func DesignBandPass(taps int, lowHz, highHz, fs float64) ([]float32, error) {
	if taps <= 0 || taps%2 == 0 {
		return nil, fmt.Errorf("band-pass needs an odd number of taps, got %d", taps)
	}
	if fs <= 0 || lowHz <= 0 || lowHz >= highHz || highHz >= fs/2 {
		return nil, fmt.Errorf("invalid band %.3f-%.3f Hz at %.1f Hz", lowHz, highHz, fs)
	}

	hi := DesignLowPass(taps, highHz/fs)
	lo := DesignLowPass(taps, lowHz/fs)

	out := make([]float32, taps)
	for i := range out {
		out[i] = float32(hi[i] - lo[i])
	}
	return out, nil
}

// Gain returns the magnitude response of coeffs at frequency f for sample
// rate fs.
func Gain(coeffs []float32, f, fs float32) float32 {
	w := 2 * math32.Pi * f / fs
	var re, im float32
	for k, c := range coeffs {
		s, co := math32.Sincos(w * float32(k))
		re += c * co
		im -= c * s
	}
	return math32.Hypot(re, im)
}
