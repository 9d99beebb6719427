// Package presence classifies the probe state from the primary channel
// readings and maintains the ambient baseline.
package presence

import (
	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/sample"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	State    State
	Baseline *Baseline // nil unless recalibrated by this evaluation
	Sleep    bool
	Err      error // ambient sample failure; State is left unchanged
}

// Detector runs once per primary channel sampling event, in interrupt
// context. It is not safe for concurrent use.
type Detector struct {
	cfg    config.PresenceConfig
	state  State
	prev   *Baseline
	stable int
}

// NewDetector creates a detector in the uncalibrated state.
func NewDetector(cfg config.PresenceConfig) *Detector {
	return &Detector{cfg: cfg, state: Uncalibrated}
}

// State returns the last decided state.
func (d *Detector) State() State { return d.state }

// Evaluate classifies the latest pair. The checks run in a fixed order:
// probe disconnected wins over finger absent when both apply. ambient is
// called only when the signal is present, to take the single-shot baseline
// sample.
func (d *Detector) Evaluate(pair sample.Pair, ambient func() (uint16, error)) Decision {
	if d.cfg.SleepEnabled {
		if pair.DC <= d.cfg.ProbeDCMax && pair.AC >= d.cfg.ProbeACMin {
			return d.absent(ProbeDisconnected)
		}
		if pair.DC > d.cfg.FingerAbsentDC {
			return d.absent(FingerAbsent)
		}
	}

	v, err := ambient()
	if err != nil {
		return Decision{State: d.state, Err: err}
	}

	b := NewBaseline(v, d.cfg.LowDelta, d.cfg.HighDelta)
	if d.prev != nil && d.prev.Contains(v) {
		d.stable++
	} else {
		d.stable = 0
	}
	d.prev = b

	d.state = Calibrating
	if d.stable >= d.cfg.StableCount {
		d.state = Valid
	}
	return Decision{State: d.state, Baseline: b}
}

// Reset forgets the baseline history.
func (d *Detector) Reset() {
	d.state = Uncalibrated
	d.prev = nil
	d.stable = 0
}

func (d *Detector) absent(s State) Decision {
	d.state = s
	d.prev = nil
	d.stable = 0
	return Decision{State: s, Sleep: true}
}
