//go:build tinygo

//go:generate tinygo flash -target=xiao -tags=tinygo

package main

import (
	"context"
	"errors"
	"machine"
	"time"

	"github.com/itohio/pulseox/pkg/config"
	"github.com/itohio/pulseox/pkg/hal"
	"github.com/itohio/pulseox/pkg/meter"
	"github.com/itohio/pulseox/pkg/presence"
	"github.com/itohio/pulseox/pkg/timing"
)

var (
	uart = machine.UART0

	errInvalidFrequency = errors.New("invalid timer frequency")

	_ hal.Timer   = (*softTimer)(nil)
	_ hal.ADC     = (*adc)(nil)
	_ hal.Power   = (*board)(nil)
	_ hal.Spinner = (*board)(nil)
)

func main() {
	PIN_DC_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_AC_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})

	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	dc := machine.ADC{Pin: PIN_DC_ADC}
	ac := machine.ADC{Pin: PIN_AC_ADC}
	dc.Configure(adcConfig)
	ac.Configure(adcConfig)

	uart.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})

	cfg := config.Default()
	b := newBoard(dc, ac)
	gen := timing.New(cfg.Timing, b.timers[hal.IR], b.timers[hal.Red])

	m, err := meter.New(cfg, &b.adc, b, b)
	if err != nil {
		println("meter:", err.Error())
		return
	}
	m.Attach(gen)
	m.OnReading(func(r meter.Result) {
		printLine(r.SpO2, r.PulseRate, r.State)
	})
	m.OnState(func(s presence.State) {
		if s != presence.Valid {
			printLine(0, 0, s)
		}
	})

	if err := gen.Start(); err != nil {
		println("timing:", err.Error())
		return
	}

	ctx := context.Background()
	for {
		for b.poll() {
		}
		if _, err := m.Step(ctx); err != nil {
			println("step:", err.Error())
		}
	}
}

// printLine writes "unix_micros,spo2,bpm,state\n".
func printLine(spo2, bpm int, s presence.State) {
	print(time.Now().UnixNano() / 1000)
	print(",")
	print(spo2)
	print(",")
	print(bpm)
	print(",")
	print(s.String())
	print("\n")
}
