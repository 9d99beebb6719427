// Package hal defines the peripherals the oximeter core consumes: the ADC,
// the LED timers and power control. Implementations live in pkg/sim for the
// host and in firmware/ for the microcontroller.
package hal

import (
	"context"
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// ErrConversionTimeout is returned when the ADC does not report completion
// within the configured number of polls.
var ErrConversionTimeout = errors.New("hal: ADC conversion did not complete")

// Channel identifies a light source.
type Channel uint8

const (
	IR Channel = iota
	Red
)

// Channels lists every light source in processing order.
var Channels = [...]Channel{IR, Red}

func (c Channel) String() string {
	switch c {
	case IR:
		return "ir"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// Input selects the photodiode path sampled by the ADC.
type Input uint8

const (
	DC Input = iota // DC-coupled path
	AC              // AC-coupled, amplified path
)

// ADC is a single successive-approximation converter with an input mux.
type ADC interface {
	Select(in Input)
	StartConversion()
	IsDone() bool
	ReadResult() uint16
}

// Timer is a periodic timer with an output-compare PWM pin driving one LED.
// The expiry handler runs in interrupt context at the start of each period.
type Timer interface {
	Configure(f physic.Frequency, duty gpio.Duty, phase time.Duration) error
	SetPriority(priority int)
	OnExpiry(fn func())
	Enable() error
	Disable() error
}

// Power halts the processor until the next interrupt.
type Power interface {
	Sleep(ctx context.Context) error
}

// Spinner busy-waits inside interrupt context.
type Spinner interface {
	Spin(d time.Duration)
}

// Convert performs one blocking conversion on the given input. IsDone is
// polled at most maxPolls times.
func Convert(adc ADC, in Input, maxPolls int) (uint16, error) {
	adc.Select(in)
	adc.StartConversion()
	for i := 0; i < maxPolls; i++ {
		if adc.IsDone() {
			return adc.ReadResult(), nil
		}
	}
	return 0, ErrConversionTimeout
}

// DutyFor converts an on-time within period to a PWM duty.
func DutyFor(on, period time.Duration) gpio.Duty {
	if period <= 0 || on <= 0 {
		return 0
	}
	if on >= period {
		return gpio.DutyMax
	}
	return gpio.Duty(int64(gpio.DutyMax) * int64(on) / int64(period))
}

// OnTime converts a PWM duty back to an on-time within period.
func OnTime(duty gpio.Duty, period time.Duration) time.Duration {
	return time.Duration(int64(period) * int64(duty) / int64(gpio.DutyMax))
}
