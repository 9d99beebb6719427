package spo2

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chewxy/math32"
)

// ErrInvalidTable is returned for calibration tables that are not monotonic.
var ErrInvalidTable = errors.New("invalid calibration table")

// Curve maps a ratio of ratios to a saturation percentage.
type Curve interface {
	Saturation(ratio float32) (float32, bool)
}

// Point is one calibration breakpoint.
type Point struct {
	Ratio float32
	SpO2  float32
}

// Table is a sensor calibration: piecewise-linear between breakpoints,
// clamped to the first and last breakpoint outside its domain.
type Table struct {
	points []Point
}

var _ Curve = (*Table)(nil)

// NewTable validates and copies the breakpoints. Ratios must be strictly
// increasing and saturation must not increase with the ratio.
func NewTable(points []Point) (*Table, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: need at least two points, got %d", ErrInvalidTable, len(points))
	}

	p := make([]Point, len(points))
	copy(p, points)
	for i, pt := range p {
		if math32.IsNaN(pt.Ratio) || math32.IsInf(pt.Ratio, 0) || pt.Ratio < 0 {
			return nil, fmt.Errorf("%w: point %d has ratio %v", ErrInvalidTable, i, pt.Ratio)
		}
		if !(pt.SpO2 >= 0 && pt.SpO2 <= 100) {
			return nil, fmt.Errorf("%w: point %d has saturation %v", ErrInvalidTable, i, pt.SpO2)
		}
		if i == 0 {
			continue
		}
		if pt.Ratio <= p[i-1].Ratio {
			return nil, fmt.Errorf("%w: ratios not increasing at point %d", ErrInvalidTable, i)
		}
		if pt.SpO2 > p[i-1].SpO2 {
			return nil, fmt.Errorf("%w: saturation increases at point %d", ErrInvalidTable, i)
		}
	}
	return &Table{points: p}, nil
}

// Domain returns the first and last breakpoints.
func (t *Table) Domain() (first, last Point) {
	return t.points[0], t.points[len(t.points)-1]
}

// Saturation implements Curve. Only NaN is rejected.
func (t *Table) Saturation(ratio float32) (float32, bool) {
	if math32.IsNaN(ratio) {
		return 0, false
	}

	first, last := t.Domain()
	if ratio <= first.Ratio {
		return first.SpO2, true
	}
	if ratio >= last.Ratio {
		return last.SpO2, true
	}

	i := sort.Search(len(t.points), func(i int) bool { return t.points[i].Ratio > ratio })
	lo, hi := t.points[i-1], t.points[i]
	frac := (ratio - lo.Ratio) / (hi.Ratio - lo.Ratio)
	return lo.SpO2 + frac*(hi.SpO2-lo.SpO2), true
}
