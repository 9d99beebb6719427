// Package framer finds two consecutive cardiac cycles in each filtered
// channel and reports their extremes as one measurement frame.
package framer

import (
	"github.com/chewxy/math32"
)

// Phase is the per-channel framing state.
type Phase int

const (
	SeekingFirst  Phase = iota // capturing the extremes of the first cycle
	SeekingSecond              // capturing the extremes of the second cycle
	CycleComplete              // both cycles captured, waiting for the other channel
)

func (p Phase) String() string {
	switch p {
	case SeekingFirst:
		return "seeking-first"
	case SeekingSecond:
		return "seeking-second"
	case CycleComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Status is the result of pushing one sample pair.
type Status int

const (
	Pending Status = iota
	Done
	Abandoned
)

// Extremes holds max/min of two consecutive cycles.
type Extremes struct {
	Max, Min   float32
	Max2, Min2 float32
}

// Frame is a completed two-cycle observation of both channels.
type Frame struct {
	IR  Extremes
	Red Extremes
	// Samples spanned by the two IR cycles, from first to third cycle boundary.
	IRSpan int
	// Samples spanned by the two Red cycles.
	RedSpan int
}

// Period returns the mean IR cycle length in samples.
func (f Frame) Period() float32 {
	return float32(f.IRSpan) / 2
}

// Framer tracks both channels. It is not safe for concurrent use.
type Framer struct {
	hysteresis float32
	timeout    int
	age        int
	ir, red    tracker
	frame      Frame
}

// New creates a framer. A cycle boundary is a rising zero crossing that
// follows an excursion below -hysteresis. A frame still incomplete after
// timeout samples is abandoned.
func New(hysteresis float32, timeout int) *Framer {
	f := &Framer{hysteresis: math32.Abs(hysteresis), timeout: timeout}
	f.Reset()
	return f
}

// Push feeds one filtered sample of each channel.
func (f *Framer) Push(ir, red float32) Status {
	f.ir.push(ir, f.hysteresis)
	f.red.push(red, f.hysteresis)
	f.age++

	if f.ir.phase == CycleComplete && f.red.phase == CycleComplete {
		f.frame = Frame{
			IR:      f.ir.extremes,
			Red:     f.red.extremes,
			IRSpan:  f.ir.end - f.ir.start,
			RedSpan: f.red.end - f.red.start,
		}
		f.Reset()
		return Done
	}

	if f.timeout > 0 && f.age >= f.timeout {
		f.Reset()
		return Abandoned
	}
	return Pending
}

// Frame returns the last completed frame.
func (f *Framer) Frame() Frame { return f.frame }

// Phases returns the IR and Red framing phases.
func (f *Framer) Phases() (ir, red Phase) { return f.ir.phase, f.red.phase }

// Reset discards the frame in progress.
func (f *Framer) Reset() {
	f.age = 0
	f.ir.reset()
	f.red.reset()
}

type tracker struct {
	phase    Phase
	aligned  bool // first boundary seen
	armed    bool // signal went below -hysteresis since the last boundary
	prev     float32
	n        int
	start    int
	end      int
	max, min float32
	extremes Extremes
}

func (t *tracker) reset() {
	*t = tracker{phase: SeekingFirst}
	t.clearRunning()
}

func (t *tracker) clearRunning() {
	t.max = -math32.MaxFloat32
	t.min = math32.MaxFloat32
}

func (t *tracker) push(v, h float32) {
	defer func() {
		t.prev = v
		t.n++
	}()

	if t.phase == CycleComplete {
		return
	}

	boundary := t.armed && t.prev < 0 && v >= 0
	if v < -h {
		t.armed = true
	}

	if boundary {
		t.armed = false
		switch {
		case !t.aligned:
			t.aligned = true
			t.start = t.n
		case t.phase == SeekingFirst:
			t.extremes.Max, t.extremes.Min = t.max, t.min
			t.phase = SeekingSecond
		default:
			t.extremes.Max2, t.extremes.Min2 = t.max, t.min
			t.phase = CycleComplete
			t.end = t.n
			return
		}
		t.clearRunning()
	}

	if !t.aligned {
		return
	}
	if v > t.max {
		t.max = v
	}
	if v < t.min {
		t.min = v
	}
}
