package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIR_Convolution(t *testing.T) {
	f := New([]float32{0.5, 0.25, 0.25})

	out := []float32{}
	for _, x := range []float32{4, 8, 0, 0, 0} {
		out = append(out, f.Next(x))
	}
	assert.Equal(t, []float32{2, 5, 3, 2, 0}, out)
}

func TestFIR_Primed(t *testing.T) {
	f := New(make([]float32, 4))
	for i := 0; i < 3; i++ {
		f.Next(1)
		assert.False(t, f.Primed())
	}
	f.Next(1)
	assert.True(t, f.Primed())

	f.Reset()
	assert.False(t, f.Primed())
	assert.Equal(t, 4, f.Len())
}

func TestFIR_ZeroInputSteadyState(t *testing.T) {
	coeffs, err := DesignBandPass(251, 0.5, 5, 250)
	require.NoError(t, err)
	f := New(coeffs)

	// arbitrary history first, then zeros flush it
	for i := 0; i < 300; i++ {
		f.Next(float32(1000 * math.Sin(float64(i)/10)))
	}
	var last float32
	for i := 0; i < f.Len(); i++ {
		last = f.Next(0)
	}
	assert.Equal(t, float32(0), last)
	for i := 0; i < 10; i++ {
		assert.Equal(t, float32(0), f.Next(0))
	}
}

func TestFIR_RejectsDC(t *testing.T) {
	coeffs, err := DesignBandPass(251, 0.5, 5, 250)
	require.NoError(t, err)
	f := New(coeffs)

	var out float32
	for i := 0; i < 2*f.Len(); i++ {
		out = f.Next(2048)
	}
	assert.InDelta(t, 0, out, 0.01)
}

func TestFIR_ResetIsPure(t *testing.T) {
	coeffs, err := DesignBandPass(51, 1, 10, 250)
	require.NoError(t, err)
	a, b := New(coeffs), New(coeffs)

	for i := 0; i < 80; i++ {
		a.Next(float32(i * 7 % 13))
	}
	a.Reset()
	for i := 0; i < 80; i++ {
		x := float32(math.Cos(float64(i) / 5))
		assert.Equal(t, b.Next(x), a.Next(x))
	}
}

func TestDesignLowPass_UnityDC(t *testing.T) {
	h := DesignLowPass(101, 0.05)
	var sum float64
	for _, v := range h {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-12)

	// symmetric, linear phase
	for i := range h {
		assert.InDelta(t, h[i], h[len(h)-1-i], 1e-15)
	}
}

func TestDesignBandPass_Response(t *testing.T) {
	const fs = 250
	coeffs, err := DesignBandPass(251, 0.5, 5, fs)
	require.NoError(t, err)

	assert.InDelta(t, 0, Gain(coeffs, 0, fs), 1e-4)
	assert.InDelta(t, 1, Gain(coeffs, 2.5, fs), 0.1)
	assert.Less(t, Gain(coeffs, 25, fs), float32(0.01))
	assert.Less(t, Gain(coeffs, 60, fs), float32(0.01))
}

func TestDesignBandPass_Invalid(t *testing.T) {
	tests := []struct {
		name            string
		taps            int
		low, high, rate float64
	}{
		{"even taps", 250, 0.5, 5, 250},
		{"no taps", 0, 0.5, 5, 250},
		{"inverted", 251, 5, 0.5, 250},
		{"above nyquist", 251, 0.5, 130, 250},
		{"zero low", 251, 0, 5, 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DesignBandPass(tt.taps, tt.low, tt.high, tt.rate)
			assert.Error(t, err)
		})
	}
}
