//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

var (
	adcPhaseA machine.ADC
	adcPhaseB machine.ADC
	uart      = machine.UART0

	// Timing
	lastADCRead time.Time

	// Line buffer: "65535,65535\n"
	line [12]byte
)

func main() {
	PIN_PHASE_A.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_PHASE_B.Configure(machine.PinConfig{Mode: machine.PinInput})

	adcPhaseA = machine.ADC{Pin: PIN_PHASE_A}
	adcPhaseB = machine.ADC{Pin: PIN_PHASE_B}

	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}

	adcPhaseA.Configure(adcConfig)
	adcPhaseB.Configure(adcConfig)

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	lastADCRead = time.Now()
	interval := time.Duration(SAMPLE_INTERVAL_US) * time.Microsecond

	for {
		now := time.Now()
		if now.Sub(lastADCRead) < interval {
			continue
		}
		lastADCRead = now

		// Sample both phases back to back so they describe the same instant
		a := scale(adcPhaseA.Get())
		b := scale(adcPhaseB.Get())
		writeSample(a, b)
	}
}

// scale reduces the 16-bit left-aligned machine.ADC value to ADC_RESOLUTION bits.
func scale(v uint16) uint16 {
	return v >> (16 - ADC_RESOLUTION)
}

// writeSample sends "a,b\n" without allocating.
func writeSample(a, b uint16) {
	n := putUint(line[:], 0, a)
	line[n] = ','
	n = putUint(line[:], n+1, b)
	line[n] = '\n'
	uart.Write(line[:n+1])
}

// putUint writes v in decimal at buf[pos:] and returns the index after it.
func putUint(buf []byte, pos int, v uint16) int {
	var tmp [5]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return pos + copy(buf[pos:], tmp[i:])
}
