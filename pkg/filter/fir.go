// Package filter implements the fixed-coefficient FIR band-pass filter that
// strips the DC level and out-of-band noise from each channel.
package filter

// FIR is a direct-form FIR filter over a circular history of the last K
// inputs. It is owned by a single goroutine.
type FIR struct {
	coeffs  []float32
	history []float32
	pos     int // slot of the next input
	seen    int
}

// New creates a filter with a copy of coeffs.
func New(coeffs []float32) *FIR {
	c := make([]float32, len(coeffs))
	copy(c, coeffs)
	return &FIR{
		coeffs:  c,
		history: make([]float32, len(c)),
	}
}

// Len returns the number of taps.
func (f *FIR) Len() int { return len(f.coeffs) }

// Next pushes x and returns Σ coeff[k]·x[n−k].
func (f *FIR) Next(x float32) float32 {
	n := len(f.coeffs)
	if n == 0 {
		return 0
	}

	f.history[f.pos] = x
	if f.seen < n {
		f.seen++
	}

	var acc float32
	i := f.pos
	for k := 0; k < n; k++ {
		acc += f.coeffs[k] * f.history[i]
		i--
		if i < 0 {
			i = n - 1
		}
	}

	f.pos++
	if f.pos == n {
		f.pos = 0
	}
	return acc
}

// Primed reports whether the history window is full, so the output no
// longer contains the start-up transient.
func (f *FIR) Primed() bool { return f.seen >= len(f.coeffs) }

// Reset clears the history.
func (f *FIR) Reset() {
	for i := range f.history {
		f.history[i] = 0
	}
	f.pos = 0
	f.seen = 0
}
