// Package sample implements the oversampling protocol run from the LED timer
// interrupt.
package sample

import (
	"fmt"
	"time"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/hal"
)

// Pair is one averaged reading of both photodiode paths taken while a single
// LED was lit.
type Pair struct {
	DC uint16
	AC uint16
}

// Sampler runs the ADC protocol. It is used from interrupt context only and
// must not block beyond its busy-waits.
type Sampler struct {
	adc  hal.ADC
	spin hal.Spinner
	cfg  config.SamplingConfig
}

// New creates a sampler.
func New(cfg config.SamplingConfig, adc hal.ADC, spin hal.Spinner) *Sampler {
	if cfg.Oversampling <= 0 {
		cfg.Oversampling = 1
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 1
	}
	return &Sampler{adc: adc, spin: spin, cfg: cfg}
}

// Sample waits for the LED transient to decay, then takes N conversions of
// the DC path followed by N conversions of the AC path and averages each.
func (s *Sampler) Sample() (Pair, error) {
	s.spin.Spin(s.cfg.Settle)

	dc, err := s.sum(hal.DC)
	if err != nil {
		return Pair{}, err
	}
	ac, err := s.sum(hal.AC)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		DC: Average(dc, s.cfg.Oversampling),
		AC: Average(ac, s.cfg.Oversampling),
	}, nil
}

// Ambient waits the longer ambient settling delay and takes one DC conversion.
func (s *Sampler) Ambient() (uint16, error) {
	s.spin.Spin(s.cfg.AmbientSettle)

	v, err := hal.Convert(s.adc, hal.DC, s.cfg.MaxPolls)
	if err != nil {
		return 0, fmt.Errorf("failed to sample ambient: %w", err)
	}
	return v, nil
}

// Budget returns the lit sampling window and the worst-case handler time.
func (s *Sampler) Budget() (window, worst time.Duration) {
	return s.cfg.Window(), s.cfg.WorstCase()
}

func (s *Sampler) sum(in hal.Input) (uint32, error) {
	var sum uint32
	for i := 0; i < s.cfg.Oversampling; i++ {
		v, err := hal.Convert(s.adc, in, s.cfg.MaxPolls)
		if err != nil {
			return 0, fmt.Errorf("failed to sample %s input: %w", inputName(in), err)
		}
		sum += uint32(v)
	}
	return sum, nil
}

func inputName(in hal.Input) string {
	if in == hal.AC {
		return "AC"
	}
	return "DC"
}
