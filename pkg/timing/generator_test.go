package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/hal"
	"github.com/itohio/pulseox/pkg/sim"
)

func newBoard(t *testing.T) (*config.Config, *sim.Board, *Generator) {
	t.Helper()
	cfg := config.Default()
	b := sim.NewBoard(cfg, sim.NewPulse(&cfg.Mock))
	g := New(cfg.Timing, b.Timer(hal.IR), b.Timer(hal.Red))
	return cfg, b, g
}

func TestGenerator_Configuration(t *testing.T) {
	cfg, b, g := newBoard(t)

	assert.Equal(t, 250*physic.Hertz, g.Frequency())
	assert.Equal(t, gpio.DutyMax/4, g.Duty())
	assert.Equal(t, time.Duration(0), g.Phase(hal.Red))
	assert.Equal(t, 4*cfg.Timing.Period+cfg.Timing.PhaseOffset, g.Phase(hal.IR))
	assert.NotEqual(t, g.Priority(hal.IR), g.Priority(hal.Red))

	require.NoError(t, g.Start())
	for _, ch := range hal.Channels {
		pin := b.Timer(ch).Pin()
		pin.Lock()
		assert.Equal(t, gpio.DutyMax/4, pin.D, ch.String())
		assert.Equal(t, 250*physic.Hertz, pin.F, ch.String())
		pin.Unlock()
	}

	require.NoError(t, g.Stop())
	for _, ch := range hal.Channels {
		assert.Equal(t, gpio.Low, b.Timer(ch).Pin().Read())
	}
}

func TestGenerator_StaggeredStart(t *testing.T) {
	cfg, b, g := newBoard(t)

	var events []struct {
		ch hal.Channel
		at time.Duration
	}
	for _, ch := range hal.Channels {
		ch := ch
		g.Attach(ch, func() {
			events = append(events, struct {
				ch hal.Channel
				at time.Duration
			}{ch, b.Now()})
		})
	}
	require.NoError(t, g.Start())

	// only Red fires during the warm-up periods
	b.Advance(4*cfg.Timing.Period - time.Microsecond)
	require.Len(t, events, 4)
	for _, e := range events {
		assert.Equal(t, hal.Red, e.ch)
	}

	events = events[:0]
	b.Advance(10 * cfg.Timing.Period)
	require.NotEmpty(t, events)

	// channels alternate and IR always lags Red by the phase offset
	for i, e := range events {
		if e.ch != hal.IR {
			continue
		}
		require.Greater(t, i, 0)
		prev := events[i-1]
		assert.Equal(t, hal.Red, prev.ch)
		assert.Equal(t, cfg.Timing.PhaseOffset, e.at-prev.at)
	}
}

func TestGenerator_RejectsDegenerateDuty(t *testing.T) {
	cfg := config.Default()
	cfg.Timing.Duty = 2 * cfg.Timing.Period
	b := sim.NewBoard(cfg, nil)
	g := New(cfg.Timing, b.Timer(hal.IR), b.Timer(hal.Red))
	assert.Error(t, g.Start())
}
