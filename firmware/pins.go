//go:build tinygo

package main

import "machine"

const (
	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// LED pins, driven through the transistor stage
	PIN_LED_RED = machine.D7
	PIN_LED_IR  = machine.D8

	// Photodiode amplifier outputs
	PIN_DC_ADC = machine.A1 // transimpedance stage
	PIN_AC_ADC = machine.A2 // high-pass and gain stage, biased at mid rail

	// Serial configuration
	// Format "unix_micros,spo2,bpm,state\n" is ~40 bytes max per line.
	// Readings arrive at most a few times per second, so the default rate
	// leaves ample headroom.
	UART_BAUD_RATE = 115200
)
