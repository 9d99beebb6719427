package presence

import "sync/atomic"

const maxReading = 0xFFFF

// Baseline is the ambient light level with its acceptance band.
// It is immutable; a new calibration produces a new Baseline.
type Baseline struct {
	ambient uint16
	upper   uint16
	lower   uint16
}

// NewBaseline builds a baseline from an ambient reading and signed deltas.
// Limits saturate at the reading range so lower <= ambient <= upper holds
// for any low <= 0 <= high.
func NewBaseline(ambient uint16, low, high int) *Baseline {
	return &Baseline{
		ambient: ambient,
		upper:   saturate(int(ambient) + max(high, 0)),
		lower:   saturate(int(ambient) + min(low, 0)),
	}
}

func (b *Baseline) Ambient() uint16 { return b.ambient }
func (b *Baseline) Upper() uint16   { return b.upper }
func (b *Baseline) Lower() uint16   { return b.lower }

// Contains reports whether v lies inside the band.
func (b *Baseline) Contains(v uint16) bool {
	return v >= b.lower && v <= b.upper
}

func saturate(v int) uint16 {
	switch {
	case v < 0:
		return 0
	case v > maxReading:
		return maxReading
	}
	return uint16(v)
}

// Cell publishes the latest Baseline from interrupt context. Readers always
// see a whole record.
type Cell struct {
	p atomic.Pointer[Baseline]
}

// Store replaces the published baseline.
func (c *Cell) Store(b *Baseline) { c.p.Store(b) }

// Load returns the published baseline or nil before the first calibration.
func (c *Cell) Load() *Baseline { return c.p.Load() }
