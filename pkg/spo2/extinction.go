package spo2

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Extinction holds molar extinction coefficients of deoxygenated (Hb) and
// oxygenated (HbO2) hemoglobin at the red and near-infrared wavelengths.
type Extinction struct {
	HbRed, HbO2Red float32
	HbNIR, HbO2NIR float32
}

var _ Curve = Extinction{}

// Coefficients for a 660 nm red LED paired with common NIR LEDs.
var (
	Extinction940 = Extinction{HbRed: 3200, HbO2Red: 320, HbNIR: 800, HbO2NIR: 1200}
	Extinction810 = Extinction{HbRed: 3200, HbO2Red: 320, HbNIR: 880, HbO2NIR: 860}
)

// ExtinctionFor returns the coefficients for a NIR wavelength in nm.
func ExtinctionFor(nm int) (Extinction, error) {
	switch nm {
	case 940:
		return Extinction940, nil
	case 810:
		return Extinction810, nil
	}
	return Extinction{}, fmt.Errorf("no extinction coefficients for %d nm", nm)
}

// Saturation implements Curve with the Beer-Lambert two-wavelength model,
// clamped to 0..100 %.
func (e Extinction) Saturation(ratio float32) (float32, bool) {
	den := e.HbRed - e.HbO2Red + ratio*(e.HbO2NIR-e.HbNIR)
	if den == 0 || math32.IsNaN(ratio) {
		return 0, false
	}
	s := (e.HbRed - ratio*e.HbNIR) / den * 100
	if math32.IsNaN(s) || math32.IsInf(s, 0) {
		return 0, false
	}
	return math32.Max(0, math32.Min(100, s)), true
}
