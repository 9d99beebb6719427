// Package timing drives the IR and Red LED timers.
package timing

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/hal"
)

// Generator configures two timers with equal periods so that the LEDs are
// never lit at the same time. Red starts first; IR is enabled after the
// warm-up periods plus the phase offset.
type Generator struct {
	cfg    config.TimingConfig
	timers [len(hal.Channels)]hal.Timer
}

// New creates a generator for the two channel timers.
func New(cfg config.TimingConfig, ir, red hal.Timer) *Generator {
	g := &Generator{cfg: cfg}
	g.timers[hal.IR] = ir
	g.timers[hal.Red] = red
	return g
}

// Frequency is the shared timer frequency.
func (g *Generator) Frequency() physic.Frequency {
	return physic.PeriodToFrequency(g.cfg.Period)
}

// Duty is the LED duty programmed into both timers.
func (g *Generator) Duty() gpio.Duty {
	return hal.DutyFor(g.cfg.Duty, g.cfg.Period)
}

// Phase returns the delay before the first expiry of a channel.
func (g *Generator) Phase(ch hal.Channel) time.Duration {
	if ch == hal.IR {
		return time.Duration(g.cfg.WarmupPeriods)*g.cfg.Period + g.cfg.PhaseOffset
	}
	return 0
}

// Priority returns the interrupt priority of a channel.
func (g *Generator) Priority(ch hal.Channel) int {
	if ch == hal.IR {
		return g.cfg.IRPriority
	}
	return g.cfg.RedPriority
}

// Attach registers fn as the expiry handler of a channel.
func (g *Generator) Attach(ch hal.Channel, fn func()) {
	g.timers[ch].OnExpiry(fn)
}

// Start configures and enables both timers.
func (g *Generator) Start() error {
	if g.cfg.Duty > g.cfg.Period {
		return fmt.Errorf("duty %v exceeds period %v", g.cfg.Duty, g.cfg.Period)
	}

	f := g.Frequency()
	duty := g.Duty()
	for _, ch := range []hal.Channel{hal.Red, hal.IR} {
		t := g.timers[ch]
		if err := t.Configure(f, duty, g.Phase(ch)); err != nil {
			return fmt.Errorf("failed to configure %s timer: %w", ch, err)
		}
		t.SetPriority(g.Priority(ch))
		if err := t.Enable(); err != nil {
			return fmt.Errorf("failed to enable %s timer: %w", ch, err)
		}
	}
	return nil
}

// Stop disables both timers.
func (g *Generator) Stop() error {
	var first error
	for _, ch := range hal.Channels {
		if err := g.timers[ch].Disable(); err != nil && first == nil {
			first = fmt.Errorf("failed to disable %s timer: %w", ch, err)
		}
	}
	return first
}
