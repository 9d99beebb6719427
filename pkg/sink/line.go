// Package sink delivers readings to the outside world as text lines.
package sink

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/pulseox/pkg/presence"
)

// MaxPulseRate bounds the pulse rate accepted by ParseLine.
const MaxPulseRate = 300

// Line is one published reading.
type Line struct {
	Timestamp time.Time
	SpO2      int // percent
	PulseRate int // beats per minute
	State     presence.State
}

// FormatLine renders a line without the trailing newline.
// Format: unix_micros,spo2,bpm,state
// Example: 1234567890123,97,72,valid
func FormatLine(l Line) string {
	return fmt.Sprintf("%d,%d,%d,%s", l.Timestamp.UnixMicro(), l.SpO2, l.PulseRate, l.State)
}

// ParseLine parses a line produced by FormatLine.
func ParseLine(line string) (Line, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 4 {
		return Line{}, fmt.Errorf("invalid line format: expected 4 comma-separated values, got %d", len(parts))
	}

	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Line{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	spo2, err := strconv.Atoi(parts[1])
	if err != nil {
		return Line{}, fmt.Errorf("invalid spo2: %w", err)
	}
	if spo2 < 0 || spo2 > 100 {
		return Line{}, fmt.Errorf("spo2 out of range: %d (0..100)", spo2)
	}

	bpm, err := strconv.Atoi(parts[2])
	if err != nil {
		return Line{}, fmt.Errorf("invalid pulse rate: %w", err)
	}
	if bpm < 0 || bpm > MaxPulseRate {
		return Line{}, fmt.Errorf("pulse rate out of range: %d (max %d)", bpm, MaxPulseRate)
	}

	state, err := presence.ParseState(parts[3])
	if err != nil {
		return Line{}, err
	}

	return Line{
		Timestamp: time.UnixMicro(micros),
		SpO2:      spo2,
		PulseRate: bpm,
		State:     state,
	}, nil
}
