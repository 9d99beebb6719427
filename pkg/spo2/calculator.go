// Package spo2 converts a measurement frame into oxygen saturation and
// pulse rate.
package spo2

import (
	"fmt"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/framer"
)

var sqrt8 = math32.Sqrt(8)

// minVrms is the smallest pulsatile amplitude treated as a signal.
const minVrms = 1e-6

// Reading is one SpO2 and pulse rate result.
type Reading struct {
	SpO2      int // percent, 0..100
	PulseRate int // beats per minute
	Ratio     float32
}

// Calculator turns frames into readings. It keeps the pulse rate average and
// is not safe for concurrent use.
type Calculator struct {
	curve        Curve
	samplePeriod time.Duration
	minBPM       float32
	maxBPM       float32
	pulse        movingAverage
}

// New builds a calculator from configuration. samplePeriod is the time
// between two consecutive samples of one channel.
func New(cfg config.CalibrationConfig, samplePeriod time.Duration) (*Calculator, error) {
	var curve Curve
	switch cfg.Method {
	case config.MethodExtinction:
		e, err := ExtinctionFor(cfg.NIRWavelength)
		if err != nil {
			return nil, err
		}
		curve = e
	case config.MethodTable, "":
		points := make([]Point, len(cfg.Points))
		for i, p := range cfg.Points {
			points[i] = Point{Ratio: p.Ratio, SpO2: p.SpO2}
		}
		t, err := NewTable(points)
		if err != nil {
			return nil, err
		}
		curve = t
	default:
		return nil, fmt.Errorf("unknown calibration method %q", cfg.Method)
	}

	return NewWithCurve(curve, samplePeriod, cfg.MinPulseRate, cfg.MaxPulseRate, cfg.PulseSmoothing), nil
}

// NewWithCurve creates a calculator around an explicit curve. smoothing is
// the moving average length for the pulse rate; 1 disables it.
func NewWithCurve(curve Curve, samplePeriod time.Duration, minBPM, maxBPM, smoothing int) *Calculator {
	if smoothing < 1 {
		smoothing = 1
	}
	return &Calculator{
		curve:        curve,
		samplePeriod: samplePeriod,
		minBPM:       float32(minBPM),
		maxBPM:       float32(maxBPM),
		pulse:        movingAverage{n: float32(smoothing)},
	}
}

// Compute derives a reading from a frame and the latest averaged DC levels.
// It returns false when the frame cannot produce a reading, for example when
// a DC level is zero or the pulse rate is implausible.
func (c *Calculator) Compute(f framer.Frame, irDC, redDC uint16) (Reading, bool) {
	ratio, ok := Ratio(f, irDC, redDC)
	if !ok {
		return Reading{}, false
	}

	sat, ok := c.curve.Saturation(ratio)
	if !ok {
		return Reading{}, false
	}

	period := f.Period() * float32(c.samplePeriod.Seconds())
	if !(period > 0) {
		return Reading{}, false
	}
	bpm := 60 / period
	if bpm < c.minBPM || bpm > c.maxBPM {
		return Reading{}, false
	}

	return Reading{
		SpO2:      int(math32.Round(sat)),
		PulseRate: int(math32.Round(c.pulse.add(bpm))),
		Ratio:     ratio,
	}, true
}

// Reset clears the pulse rate history.
func (c *Calculator) Reset() {
	c.pulse.reset()
}

// Vpp is the peak-to-peak amplitude averaged over the two cycles.
func Vpp(e framer.Extremes) float32 {
	return (math32.Abs(e.Max-e.Min) + math32.Abs(e.Max2-e.Min2)) / 2
}

// Vrms is the RMS of a sinusoid with the frame's peak-to-peak amplitude.
func Vrms(e framer.Extremes) float32 {
	return Vpp(e) / sqrt8
}

// Ratio computes (RedVrms/RedDC)/(IRVrms/IRDC). It returns false instead of
// dividing by zero.
func Ratio(f framer.Frame, irDC, redDC uint16) (float32, bool) {
	if irDC == 0 || redDC == 0 {
		return 0, false
	}
	ir := Vrms(f.IR)
	red := Vrms(f.Red)
	if !(ir > minVrms) || math32.IsInf(red, 0) || math32.IsNaN(red) {
		return 0, false
	}

	r := (red / float32(redDC)) / (ir / float32(irDC))
	if math32.IsNaN(r) || math32.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}

// movingAverage is an exponential moving average seeded with its first value.
type movingAverage struct {
	n      float32
	mean   float32
	primed bool
}

func (m *movingAverage) add(v float32) float32 {
	if !m.primed {
		m.mean = v
		m.primed = true
		return v
	}
	m.mean += (v - m.mean) / m.n
	return m.mean
}

func (m *movingAverage) reset() {
	m.mean = 0
	m.primed = false
}
