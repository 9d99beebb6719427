// Package sim provides a virtual-time board implementing the hal peripherals
// so the oximeter core can run and be tested on a host.
package sim

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/hal"
)

const adcMax = 4095

// Scene produces the photodiode level seen by the ADC.
// lit reports whether the channel's LED is on at the time of conversion.
type Scene interface {
	Level(ch hal.Channel, in hal.Input, at time.Duration, lit bool) uint16
}

// Board simulates the LED timers, the ADC and the power controller.
//
// Expiries are dispatched in wake-time order; simultaneous expiries run the
// higher priority handler first. Handlers are not preempted: an expiry that
// becomes due while another handler runs is dispatched late, and the lateness
// is recorded.
type Board struct {
	dispatch sync.Mutex // serialises handler execution

	mu         sync.Mutex
	now        time.Duration
	cpu        time.Duration // time consumed by the running handler
	running    *Timer
	maxCPU     time.Duration
	maxLatency time.Duration
	expiries   uint64
	realtime   bool

	scene  Scene
	timers [len(hal.Channels)]*Timer
	adc    *ADC
	power  *Power

	noise      *rand.Rand
	noiseLevel float64
}

var (
	_ hal.Spinner = (*Board)(nil)
	_ hal.Timer   = (*Timer)(nil)
	_ hal.ADC     = (*ADC)(nil)
	_ hal.Power   = (*Power)(nil)
)

// NewBoard creates a board reading from scene.
func NewBoard(cfg *config.Config, scene Scene) *Board {
	polls := cfg.Mock.PollsPerConversion
	if polls <= 0 {
		polls = 1
	}

	b := &Board{
		scene:      scene,
		noise:      rand.New(rand.NewSource(cfg.Mock.Seed)),
		noiseLevel: cfg.Mock.NoiseLevel,
	}
	for _, ch := range hal.Channels {
		b.timers[ch] = &Timer{
			board: b,
			ch:    ch,
			pin:   &gpiotest.Pin{N: "LED_" + ch.String(), Num: int(ch)},
		}
	}
	b.adc = &ADC{board: b, conversion: cfg.Sampling.ConversionTime, polls: polls}
	b.power = &Power{board: b, irq: make(chan struct{}, 1)}
	return b
}

// Timer returns the LED timer of a channel.
func (b *Board) Timer(ch hal.Channel) *Timer { return b.timers[ch] }

// ADC returns the converter.
func (b *Board) ADC() *ADC { return b.adc }

// Power returns the power controller.
func (b *Board) Power() *Power { return b.power }

// SetScene swaps the photodiode scene.
func (b *Board) SetScene(s Scene) {
	b.mu.Lock()
	b.scene = s
	b.mu.Unlock()
}

// Now returns the virtual time.
func (b *Board) Now() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

// Spin busy-waits inside the running handler.
func (b *Board) Spin(d time.Duration) {
	b.mu.Lock()
	b.cpu += d
	b.mu.Unlock()
}

// MaxHandlerTime is the longest time any handler has run.
func (b *Board) MaxHandlerTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxCPU
}

// MaxLatency is the longest delay between an expiry and its dispatch.
func (b *Board) MaxLatency() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxLatency
}

// Expiries returns the number of dispatched timer expiries.
func (b *Board) Expiries() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expiries
}

// Advance moves virtual time forward by d, dispatching every expiry due on
// the way. It returns the number of handlers run.
func (b *Board) Advance(d time.Duration) int {
	b.dispatch.Lock()
	defer b.dispatch.Unlock()

	b.mu.Lock()
	target := b.now + d
	b.mu.Unlock()

	n := 0
	for b.fireNext(target) {
		n++
	}

	b.mu.Lock()
	if b.now < target {
		b.now = target
	}
	b.mu.Unlock()
	return n
}

// AdvanceToNext moves virtual time to the next expiry and dispatches it.
// It returns false when no timer is enabled.
func (b *Board) AdvanceToNext() bool {
	b.dispatch.Lock()
	defer b.dispatch.Unlock()
	return b.fireNext(-1)
}

// Run advances the board continuously in steps of step until ctx is done.
// In realtime mode each step waits for a ticker, and Power.Sleep blocks for
// the next interrupt instead of advancing virtual time itself.
func (b *Board) Run(ctx context.Context, step time.Duration, realtime bool) error {
	if step <= 0 {
		return fmt.Errorf("invalid step %v", step)
	}

	b.mu.Lock()
	b.realtime = realtime
	b.mu.Unlock()

	var tick <-chan time.Time
	if realtime {
		ticker := time.NewTicker(step)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		b.Advance(step)
	}
}

// fireNext dispatches the earliest expiry due at or before target.
// A negative target accepts any expiry.
func (b *Board) fireNext(target time.Duration) bool {
	b.mu.Lock()
	var t *Timer
	for _, c := range b.timers {
		if !c.enabled {
			continue
		}
		if target >= 0 && c.next > target {
			continue
		}
		if t == nil || c.next < t.next || (c.next == t.next && c.priority > t.priority) {
			t = c
		}
	}
	if t == nil {
		b.mu.Unlock()
		return false
	}

	due := t.next
	if b.now < due {
		b.now = due
	}
	if late := b.now - due; late > b.maxLatency {
		b.maxLatency = late
	}
	t.expiredAt = due
	t.next += t.period
	b.running = t
	b.cpu = 0
	handler := t.handler
	b.mu.Unlock()

	b.run(t, handler)
	return true
}

func (b *Board) run(t *Timer, handler func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in %s expiry handler: %v", t.ch, r)
		}

		b.mu.Lock()
		if b.cpu > b.maxCPU {
			b.maxCPU = b.cpu
		}
		b.now += b.cpu
		b.cpu = 0
		b.running = nil
		b.expiries++
		b.mu.Unlock()

		b.power.interrupt()
	}()

	if handler != nil {
		handler()
	}
}

// read samples the scene for the running handler at the current instant.
func (b *Board) read(in hal.Input) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	at := b.now + b.cpu
	ch := hal.IR
	lit := false
	if r := b.running; r != nil {
		ch = r.ch
		lit = at-r.expiredAt < r.onTime
	}
	if b.scene == nil {
		return 0
	}

	v := float64(b.scene.Level(ch, in, at, lit))
	if b.noiseLevel > 0 {
		v += b.noise.NormFloat64() * b.noiseLevel
	}
	switch {
	case v < 0:
		v = 0
	case v > adcMax:
		v = adcMax
	}
	return uint16(v)
}

// Timer is one LED timer of the board.
type Timer struct {
	board *Board
	ch    hal.Channel
	pin   *gpiotest.Pin

	// guarded by board.mu
	freq      physic.Frequency
	duty      gpio.Duty
	period    time.Duration
	onTime    time.Duration
	phase     time.Duration
	priority  int
	handler   func()
	enabled   bool
	next      time.Duration
	expiredAt time.Duration
}

// Pin returns the LED output pin.
func (t *Timer) Pin() *gpiotest.Pin { return t.pin }

// Configure sets the PWM frequency, duty and the delay before the first expiry.
func (t *Timer) Configure(f physic.Frequency, duty gpio.Duty, phase time.Duration) error {
	if f <= 0 {
		return fmt.Errorf("invalid %s timer frequency %s", t.ch, f)
	}
	if duty > gpio.DutyMax {
		return fmt.Errorf("invalid %s timer duty %s", t.ch, duty)
	}

	b := t.board
	b.mu.Lock()
	defer b.mu.Unlock()
	t.freq = f
	t.duty = duty
	t.period = f.Period()
	t.onTime = hal.OnTime(duty, t.period)
	t.phase = phase
	return nil
}

// SetPriority sets the interrupt priority.
func (t *Timer) SetPriority(priority int) {
	t.board.mu.Lock()
	t.priority = priority
	t.board.mu.Unlock()
}

// OnExpiry registers the expiry handler.
func (t *Timer) OnExpiry(fn func()) {
	t.board.mu.Lock()
	t.handler = fn
	t.board.mu.Unlock()
}

// Enable starts the timer; the first expiry happens after the phase delay.
func (t *Timer) Enable() error {
	b := t.board
	b.mu.Lock()
	if t.period <= 0 {
		b.mu.Unlock()
		return fmt.Errorf("%s timer is not configured", t.ch)
	}
	t.enabled = true
	t.next = b.now + t.phase
	duty, freq := t.duty, t.freq
	b.mu.Unlock()

	return t.pin.PWM(duty, freq)
}

// Disable stops the timer and turns the LED off.
func (t *Timer) Disable() error {
	t.board.mu.Lock()
	t.enabled = false
	t.board.mu.Unlock()

	return t.pin.Out(gpio.Low)
}

// ADC is the board's converter.
type ADC struct {
	board      *Board
	conversion time.Duration
	polls      int

	in        hal.Input
	remaining int
	result    uint16
}

// Select chooses the input for the next conversion.
func (a *ADC) Select(in hal.Input) { a.in = in }

// StartConversion samples the scene and charges the conversion time to the
// running handler.
func (a *ADC) StartConversion() {
	a.board.Spin(a.conversion)
	a.result = a.board.read(a.in)
	a.remaining = a.polls - 1
}

// IsDone reports completion after the configured number of polls.
func (a *ADC) IsDone() bool {
	if a.remaining > 0 {
		a.remaining--
		return false
	}
	return true
}

// ReadResult returns the last conversion.
func (a *ADC) ReadResult() uint16 { return a.result }

// Power simulates the low power wait.
type Power struct {
	board  *Board
	irq    chan struct{}
	mu     sync.Mutex
	sleeps int
}

// Sleep halts until the next interrupt. Outside realtime mode the board is
// advanced to its next expiry directly.
func (p *Power) Sleep(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	p.sleeps++
	p.mu.Unlock()

	p.board.mu.Lock()
	realtime := p.board.realtime
	p.board.mu.Unlock()

	if !realtime {
		// drop a stale wakeup so the next Sleep does not return early
		select {
		case <-p.irq:
		default:
		}
		if !p.board.AdvanceToNext() {
			return fmt.Errorf("no timer enabled to wake from sleep")
		}
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.irq:
		return nil
	}
}

// Sleeps returns how many times Sleep was entered.
func (p *Power) Sleeps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sleeps
}

func (p *Power) interrupt() {
	select {
	case p.irq <- struct{}{}:
	default:
	}
}
