//go:build tinygo

package main

import (
	"context"
	"machine"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/itohio/pulseox/pkg/hal"
)

// board implements the hal peripherals with software timers polled from the
// main loop. Expiry handlers run to completion; LEDs are switched off from
// inside busy-waits so that the on-time holds while a handler samples.
type board struct {
	timers [len(hal.Channels)]*softTimer
	adc    adc
}

func newBoard(dc, ac machine.ADC) *board {
	b := &board{adc: adc{dc: dc, ac: ac}}
	b.adc.board = b
	b.timers[hal.IR] = &softTimer{board: b, pin: PIN_LED_IR}
	b.timers[hal.Red] = &softTimer{board: b, pin: PIN_LED_RED}
	for _, t := range b.timers {
		t.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		t.pin.Low()
	}
	return b
}

// service switches off LEDs whose on-time has elapsed.
func (b *board) service(now time.Time) {
	for _, t := range b.timers {
		if t.lit && !now.Before(t.offAt) {
			t.pin.Low()
			t.lit = false
		}
	}
}

// poll dispatches the earliest due expiry, preferring the higher priority
// on ties. It returns false when nothing was due.
func (b *board) poll() bool {
	now := time.Now()
	b.service(now)

	var due *softTimer
	for _, t := range b.timers {
		if !t.enabled || now.Before(t.next) {
			continue
		}
		if due == nil || t.next.Before(due.next) || (t.next.Equal(due.next) && t.priority > due.priority) {
			due = t
		}
	}
	if due == nil {
		return false
	}

	due.next = due.next.Add(due.period)
	due.pin.High()
	due.lit = true
	due.offAt = now.Add(due.onTime)
	if due.handler != nil {
		due.handler()
	}
	b.service(time.Now())
	return true
}

// nextExpiry returns the earliest scheduled expiry.
func (b *board) nextExpiry() (time.Time, bool) {
	var next time.Time
	ok := false
	for _, t := range b.timers {
		if t.enabled && (!ok || t.next.Before(next)) {
			next, ok = t.next, true
		}
	}
	return next, ok
}

// Spin implements hal.Spinner.
func (b *board) Spin(d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		now := time.Now()
		b.service(now)
		if !now.Before(deadline) {
			return
		}
	}
}

// Sleep implements hal.Power. It idles until the next expiry and runs it.
func (b *board) Sleep(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if next, ok := b.nextExpiry(); ok {
		if d := time.Until(next); d > 0 {
			time.Sleep(d)
		}
	}
	b.poll()
	return nil
}

type softTimer struct {
	board    *board
	pin      machine.Pin
	period   time.Duration
	onTime   time.Duration
	phase    time.Duration
	priority int
	handler  func()
	enabled  bool
	lit      bool
	next     time.Time
	offAt    time.Time
}

func (t *softTimer) Configure(f physic.Frequency, duty gpio.Duty, phase time.Duration) error {
	if f <= 0 {
		return errInvalidFrequency
	}
	t.period = f.Period()
	t.onTime = hal.OnTime(duty, t.period)
	t.phase = phase
	return nil
}

func (t *softTimer) SetPriority(priority int) { t.priority = priority }

func (t *softTimer) OnExpiry(fn func()) { t.handler = fn }

func (t *softTimer) Enable() error {
	t.next = time.Now().Add(t.phase)
	t.enabled = true
	return nil
}

func (t *softTimer) Disable() error {
	t.enabled = false
	t.lit = false
	t.pin.Low()
	return nil
}

// adc reads the two amplifier outputs. Conversions are synchronous.
type adc struct {
	board  *board
	dc, ac machine.ADC
	in     hal.Input
	result uint16
}

func (a *adc) Select(in hal.Input) { a.in = in }

func (a *adc) StartConversion() {
	src := a.dc
	if a.in == hal.AC {
		src = a.ac
	}
	// Get returns a left-aligned 16-bit value
	a.result = src.Get() >> (16 - ADC_RESOLUTION)
	a.board.service(time.Now())
}

func (a *adc) IsDone() bool { return true }

func (a *adc) ReadResult() uint16 { return a.result }
