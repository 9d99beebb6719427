package presence

import "fmt"

// State is the calibration and operational state of the meter.
type State int32

const (
	Uncalibrated State = iota
	Calibrating
	Valid
	FingerAbsent
	ProbeDisconnected
)

var stateNames = [...]string{
	Uncalibrated:      "uncalibrated",
	Calibrating:       "calibrating",
	Valid:             "valid",
	FingerAbsent:      "finger-absent",
	ProbeDisconnected: "probe-disconnected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// ParseState is the inverse of String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Uncalibrated, fmt.Errorf("unknown meter state %q", name)
}

// Absent reports whether the state means there is no signal to measure and
// the power manager should sleep.
func (s State) Absent() bool {
	return s == FingerAbsent || s == ProbeDisconnected
}
