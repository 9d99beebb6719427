package framer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, amp, period, phase float64) float32 {
	return float32(amp * math.Sin(2*math.Pi*float64(n)/period+phase))
}

func TestFramer_CompletesAfterTwoCyclesOnBothChannels(t *testing.T) {
	f := New(2, 0)

	done := -1
	for n := 0; n < 1000; n++ {
		st := f.Push(sine(n, 500, 100, 0.3), sine(n, 200, 100, 1.1))
		if st == Done {
			done = n
			break
		}
		require.Equal(t, Pending, st)
	}
	require.Greater(t, done, 0)
	assert.Less(t, done, 400, "three boundaries per channel need about three periods")

	fr := f.Frame()
	assert.InDelta(t, 500, fr.IR.Max, 1)
	assert.InDelta(t, -500, fr.IR.Min, 1)
	assert.InDelta(t, 500, fr.IR.Max2, 1)
	assert.InDelta(t, -500, fr.IR.Min2, 1)
	assert.InDelta(t, 200, fr.Red.Max, 1)
	assert.InDelta(t, -200, fr.Red.Min2, 1)
	assert.Equal(t, 200, fr.IRSpan)
	assert.Equal(t, 200, fr.RedSpan)
	assert.Equal(t, float32(100), fr.Period())

	// extremes reset for the next frame
	ir, red := f.Phases()
	assert.Equal(t, SeekingFirst, ir)
	assert.Equal(t, SeekingFirst, red)
}

func TestFramer_Phases(t *testing.T) {
	f := New(2, 0)

	var seen []Phase
	last := Phase(-1)
	for n := 0; n < 400; n++ {
		f.Push(sine(n, 500, 100, 0.3), 0)
		ir, _ := f.Phases()
		if ir != last {
			seen = append(seen, ir)
			last = ir
		}
	}
	assert.Equal(t, []Phase{SeekingFirst, SeekingSecond, CycleComplete}, seen)
}

func TestFramer_StarvedChannelNeverCompletes(t *testing.T) {
	tests := []struct {
		name    string
		ir, red func(n int) float32
	}{
		{"red flat", func(n int) float32 { return sine(n, 500, 100, 0.3) }, func(int) float32 { return 0 }},
		{"ir flat", func(int) float32 { return 0 }, func(n int) float32 { return sine(n, 500, 100, 0.3) }},
		{"red below hysteresis", func(n int) float32 { return sine(n, 500, 100, 0.3) }, func(n int) float32 { return sine(n, 1, 100, 0.3) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(2, 0)
			for n := 0; n < 10000; n++ {
				require.Equal(t, Pending, f.Push(tt.ir(n), tt.red(n)), "sample %d", n)
			}
		})
	}
}

func TestFramer_TimeoutAbandonsFrame(t *testing.T) {
	f := New(2, 250)

	abandoned := 0
	for n := 0; n < 1000; n++ {
		switch f.Push(sine(n, 500, 100, 0.3), 0) {
		case Done:
			t.Fatal("frame completed without red cycles")
		case Abandoned:
			abandoned++
			ir, red := f.Phases()
			assert.Equal(t, SeekingFirst, ir)
			assert.Equal(t, SeekingFirst, red)
		}
	}
	assert.Equal(t, 4, abandoned)
}

func TestFramer_SlowPulseTimesOut(t *testing.T) {
	// a frame needs about three periods; a 150 sample timeout cannot fit a 100 sample period
	f := New(2, 150)
	for n := 0; n < 600; n++ {
		assert.NotEqual(t, Done, f.Push(sine(n, 500, 100, 0.3), sine(n, 200, 100, 0.3)))
	}
}

func TestFramer_ResetDiscardsProgress(t *testing.T) {
	f := New(2, 0)
	for n := 0; n < 250; n++ {
		f.Push(sine(n, 500, 100, 0.3), sine(n, 200, 100, 0.3))
	}
	ir, _ := f.Phases()
	require.NotEqual(t, SeekingFirst, ir)

	f.Reset()
	ir, red := f.Phases()
	assert.Equal(t, SeekingFirst, ir)
	assert.Equal(t, SeekingFirst, red)
}
