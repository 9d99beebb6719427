package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/hal"
	"github.com/itohio/pulseox/pkg/sim"
)

// scriptADC returns readings from per-input queues and records the protocol.
type scriptADC struct {
	values map[hal.Input][]uint16
	sel    hal.Input
	log    []string
	stuck  bool
	last   uint16
}

func (a *scriptADC) Select(in hal.Input) { a.sel = in }

func (a *scriptADC) StartConversion() {
	q := a.values[a.sel]
	if len(q) > 0 {
		a.last, a.values[a.sel] = q[0], q[1:]
	}
	a.log = append(a.log, inputName(a.sel))
}

func (a *scriptADC) IsDone() bool       { return !a.stuck }
func (a *scriptADC) ReadResult() uint16 { return a.last }

type recordSpin struct {
	log *[]string
	d   []time.Duration
}

func (s *recordSpin) Spin(d time.Duration) {
	s.d = append(s.d, d)
	*s.log = append(*s.log, "spin")
}

func testConfig() config.SamplingConfig {
	cfg := config.Default().Sampling
	cfg.Oversampling = 4
	return cfg
}

func TestSampler_Protocol(t *testing.T) {
	adc := &scriptADC{values: map[hal.Input][]uint16{
		hal.DC: {1000, 1001, 1002, 1004, 50},
		hal.AC: {2000, 2001, 2001, 2001},
	}}
	spin := &recordSpin{log: &adc.log}
	cfg := testConfig()
	s := New(cfg, adc, spin)

	pair, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, Pair{DC: 1001, AC: 2000}, pair) // 4007/4 and 8003/4 truncated
	assert.Equal(t, []string{"spin", "DC", "DC", "DC", "DC", "AC", "AC", "AC", "AC"}, adc.log)
	assert.Equal(t, []time.Duration{cfg.Settle}, spin.d)

	ambient, err := s.Ambient()
	require.NoError(t, err)
	assert.Equal(t, uint16(50), ambient)
	assert.Equal(t, []time.Duration{cfg.Settle, cfg.AmbientSettle}, spin.d)
}

func TestSampler_ConversionTimeout(t *testing.T) {
	adc := &scriptADC{values: map[hal.Input][]uint16{}, stuck: true}
	s := New(testConfig(), adc, &recordSpin{log: &adc.log})

	_, err := s.Sample()
	assert.ErrorIs(t, err, hal.ErrConversionTimeout)

	_, err = s.Ambient()
	assert.ErrorIs(t, err, hal.ErrConversionTimeout)
}

func TestSampler_WorstCaseWithinBudget(t *testing.T) {
	cfg := config.Default()
	b := sim.NewBoard(cfg, sim.NewPulse(&cfg.Mock))
	s := New(cfg.Sampling, b.ADC(), b)

	tm := b.Timer(hal.Red)
	require.NoError(t, tm.Configure(physic.PeriodToFrequency(cfg.Timing.Period), hal.DutyFor(cfg.Timing.Duty, cfg.Timing.Period), 0))
	var pair Pair
	var ambient uint16
	tm.OnExpiry(func() {
		var err error
		pair, err = s.Sample()
		require.NoError(t, err)
		ambient, err = s.Ambient()
		require.NoError(t, err)
	})
	require.NoError(t, tm.Enable())

	b.Advance(time.Millisecond)

	window, worst := s.Budget()
	assert.Equal(t, worst, b.MaxHandlerTime())
	assert.LessOrEqual(t, window, cfg.Timing.Duty)
	assert.Less(t, worst, cfg.Timing.PhaseOffset)

	// DC taken under the lit LED, ambient after it switched off
	assert.InDelta(t, float64(cfg.Mock.RedDC), float64(pair.DC), float64(cfg.Mock.RedDC)*0.05)
	assert.Equal(t, cfg.Mock.Ambient, ambient)
}
