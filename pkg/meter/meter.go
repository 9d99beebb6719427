// Package meter is the top-level controller: it runs the sampling handlers
// registered on the LED timers, and a cooperative loop that filters, frames
// and converts the samples into readings, sleeping while no finger is present.
package meter

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/filter"
	"github.com/itohio/pulseox/pkg/framer"
	"github.com/itohio/pulseox/pkg/hal"
	"github.com/itohio/pulseox/pkg/presence"
	"github.com/itohio/pulseox/pkg/sample"
	"github.com/itohio/pulseox/pkg/spo2"
)

// Primary is the channel whose handler runs presence detection.
const Primary = hal.Red

const (
	irReady   = uint32(1) << hal.IR
	redReady  = uint32(1) << hal.Red
	bothReady = irReady | redReady
)

// Result is one reading delivered to the result sink.
type Result struct {
	spo2.Reading
	State   presence.State
	Elapsed time.Duration // sample time since start
}

// Outcome describes what one Step did.
type Outcome int

const (
	Idle      Outcome = iota // nothing to do until the next interrupt
	Processed                // one sample pair consumed
	Slept                    // no signal; the processor slept until an interrupt
)

// Attacher registers per-channel expiry handlers, see timing.Generator.
type Attacher interface {
	Attach(ch hal.Channel, fn func())
}

// Meter implements the controller.
//
// The handler side writes only the ready flags, the latest pairs, the
// baseline and the state, all through atomics. Filters, framer and
// calculator belong to the cooperative side.
type Meter struct {
	cfg      *config.Config
	sampler  *sample.Sampler
	detector *presence.Detector
	power    hal.Power

	// written from interrupt context
	ready    atomic.Uint32
	latest   [len(hal.Channels)]atomic.Pointer[sample.Pair]
	baseline presence.Cell
	state    atomic.Int32
	dropped  atomic.Uint64
	wake     chan struct{}

	// cooperative context only
	filters   [len(hal.Channels)]*filter.FIR
	framer    *framer.Framer
	calc      *spo2.Calculator
	samples   int64
	frames    int
	abandoned int
	lastState presence.State

	// Update callbacks
	mu        sync.RWMutex
	onReading []func(Result)
	onState   []func(presence.State)
	onSamples []func(ir, red sample.Pair)
	shutdown  bool
}

// New creates a controller. cfg is expected to be validated.
func New(cfg *config.Config, adc hal.ADC, spin hal.Spinner, power hal.Power) (*Meter, error) {
	calc, err := spo2.New(cfg.Calibration, cfg.Timing.Period)
	if err != nil {
		return nil, fmt.Errorf("failed to create calculator: %w", err)
	}

	m := &Meter{
		cfg:       cfg,
		sampler:   sample.New(cfg.Sampling, adc, spin),
		detector:  presence.NewDetector(cfg.Presence),
		power:     power,
		wake:      make(chan struct{}, 1),
		framer:    framer.New(cfg.Framer.Hysteresis, cfg.FrameTimeout()),
		calc:      calc,
		lastState: presence.Uncalibrated,
	}

	for _, ch := range hal.Channels {
		coeffs, err := coefficients(&cfg.Filter, ch, cfg.Timing.SampleRate())
		if err != nil {
			return nil, fmt.Errorf("failed to design %s filter: %w", ch, err)
		}
		m.filters[ch] = filter.New(coeffs)
	}

	return m, nil
}

func coefficients(cfg *config.FilterConfig, ch hal.Channel, fs float64) ([]float32, error) {
	explicit := cfg.IRCoefficients
	if ch == hal.Red {
		explicit = cfg.RedCoefficients
	}
	if len(explicit) > 0 {
		return explicit, nil
	}
	return filter.DesignBandPass(cfg.Taps, cfg.LowCutHz, cfg.HighCutHz, fs)
}

// Attach registers the sampling handlers for both channels.
func (m *Meter) Attach(a Attacher) {
	for _, ch := range hal.Channels {
		ch := ch
		a.Attach(ch, func() { m.handle(ch) })
	}
}

// handle is the timer expiry handler of one channel. It runs in interrupt
// context: it busy-waits on the ADC and never blocks otherwise.
func (m *Meter) handle(ch hal.Channel) {
	pair, err := m.sampler.Sample()
	if err != nil {
		m.dropped.Add(1)
		log.Printf("Dropped %s sample: %v", ch, err)
		return
	}
	m.latest[ch].Store(&pair)

	if ch == Primary {
		dec := m.detector.Evaluate(pair, m.sampler.Ambient)
		if dec.Err != nil {
			m.dropped.Add(1)
			log.Printf("Baseline not updated: %v", dec.Err)
		}
		if dec.Baseline != nil {
			m.baseline.Store(dec.Baseline)
		}
		m.state.Store(int32(dec.State))
	}

	m.ready.Or(uint32(1) << ch)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// State returns the current meter state.
func (m *Meter) State() presence.State {
	return presence.State(m.state.Load())
}

// Baseline returns the latest ambient baseline, nil before the first one.
func (m *Meter) Baseline() *presence.Baseline {
	return m.baseline.Load()
}

// Dropped returns the number of samples lost to ADC timeouts.
func (m *Meter) Dropped() uint64 {
	return m.dropped.Load()
}

// Frames returns the number of completed and abandoned frames.
func (m *Meter) Frames() (completed, abandoned int) {
	return m.frames, m.abandoned
}

// Step runs one iteration of the cooperative loop.
func (m *Meter) Step(ctx context.Context) (Outcome, error) {
	st := m.State()
	if st != m.lastState {
		m.lastState = st
		m.notifyState(st)
	}

	if st.Absent() {
		m.discard()
		if err := m.power.Sleep(ctx); err != nil {
			return Slept, fmt.Errorf("failed to sleep: %w", err)
		}
		return Slept, nil
	}

	// both channels must have sampled since the last iteration
	if !m.ready.CompareAndSwap(bothReady, 0) {
		return Idle, nil
	}
	ir, red := m.latest[hal.IR].Load(), m.latest[hal.Red].Load()
	m.samples++
	m.notifySamples(*ir, *red)

	fir := m.filters[hal.IR].Next(float32(ir.AC))
	fred := m.filters[hal.Red].Next(float32(red.AC))
	if !m.filters[hal.IR].Primed() || !m.filters[hal.Red].Primed() {
		return Processed, nil
	}

	if st != presence.Valid {
		m.framer.Reset()
		return Processed, nil
	}

	switch m.framer.Push(fir, fred) {
	case framer.Done:
		m.frames++
		r, ok := m.calc.Compute(m.framer.Frame(), ir.DC, red.DC)
		if !ok {
			break
		}
		m.notifyReading(Result{
			Reading: r,
			State:   st,
			Elapsed: time.Duration(m.samples) * m.cfg.Timing.Period,
		})
	case framer.Abandoned:
		m.abandoned++
	}
	return Processed, nil
}

// Drain steps until there is nothing left to process or the meter slept.
func (m *Meter) Drain(ctx context.Context) error {
	for {
		out, err := m.Step(ctx)
		if err != nil {
			return err
		}
		if out != Processed {
			return nil
		}
	}
}

// Run is the cooperative main loop. It waits for the sampling handlers
// between iterations and returns when ctx is done. No callbacks are invoked
// after Run returns.
func (m *Meter) Run(ctx context.Context) error {
	defer func() {
		m.mu.Lock()
		m.shutdown = true
		m.mu.Unlock()
	}()

	for {
		out, err := m.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if out != Idle {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.wake:
		}
	}
}

// discard drops everything collected for the current frame. The filters are
// cleared too so that the transient of a finger returning is not framed.
func (m *Meter) discard() {
	m.ready.Store(0)
	m.framer.Reset()
	m.calc.Reset()
	for _, f := range m.filters {
		f.Reset()
	}
}

// OnReading registers a callback for every produced reading.
// Callbacks run in the cooperative loop and should return quickly.
func (m *Meter) OnReading(cb func(Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReading = append(m.onReading, cb)
}

// OnState registers a callback for meter state changes.
func (m *Meter) OnState(cb func(presence.State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = append(m.onState, cb)
}

// OnSamples registers a callback receiving every processed sample pair.
func (m *Meter) OnSamples(cb func(ir, red sample.Pair)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSamples = append(m.onSamples, cb)
}

// ResetShutdown allows callbacks again after Run returned.
func (m *Meter) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

func (m *Meter) notifyReading(r Result) {
	m.mu.RLock()
	if m.shutdown {
		m.mu.RUnlock()
		return
	}
	callbacks := make([]func(Result), len(m.onReading))
	copy(callbacks, m.onReading)
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb(r)
	}
}

func (m *Meter) notifyState(s presence.State) {
	m.mu.RLock()
	if m.shutdown {
		m.mu.RUnlock()
		return
	}
	callbacks := make([]func(presence.State), len(m.onState))
	copy(callbacks, m.onState)
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb(s)
	}
}

func (m *Meter) notifySamples(ir, red sample.Pair) {
	m.mu.RLock()
	if m.shutdown || len(m.onSamples) == 0 {
		m.mu.RUnlock()
		return
	}
	callbacks := make([]func(ir, red sample.Pair), len(m.onSamples))
	copy(callbacks, m.onSamples)
	m.mu.RUnlock()

	for _, cb := range callbacks {
		cb(ir, red)
	}
}
