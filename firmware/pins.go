//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_INTERVAL_US = 100 // one sample pair per 10 kHz control period

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// INA240 outputs, one per low-side shunt
	PIN_PHASE_A = machine.A1
	PIN_PHASE_B = machine.A2

	// Serial configuration
	// Line format "a,b\n" is at most 10 bytes for 12-bit counts.
	// 10,000 lines/sec * 10 bytes = 100,000 bytes/sec = 1,000,000 baud at 8N1.
	// 921600 is the closest common rate; lines average ~9 bytes at mid-scale,
	// so the stream keeps up at 90,000 bytes/sec.
	UART_BAUD_RATE = 921600
)
