//go:build tinygo

package main

import (
	"machine"
	"time"
)

// Board wiring of the logger on a XIAO.
const (
	PIN_VOLTAGE_ADC = machine.A1  // supply divider
	PIN_CURRENT_ADC = machine.A10 // current amplifier output

	PIN_GAIN0 = machine.D2 // amplifier gain select, LSB
	PIN_GAIN1 = machine.D3
	PIN_GAIN2 = machine.D4

	PIN_CAL_CURRENT = machine.D5 // grounds the amplifier input when high
	PIN_CAL_VOLTAGE = machine.D6 // grounds the divider tap when high

	PIN_LED_YELLOW = machine.D7
	PIN_LED_GREEN  = machine.D8
	PIN_LED_RED    = machine.D9
	PIN_LED_STROBE = machine.LED

	PIN_BUTTON = machine.D0 // to ground, internal pull-up
)

const (
	UART_BAUD_RATE   = 2000000
	ADC_REFERENCE_MV = 3300
	ADC_RESOLUTION   = 12

	SAMPLE_PERIOD      = time.Millisecond
	SAMPLES_PER_FRAME  = 64
	CALIBRATION_FRAMES = 10
	SETTLE             = 5 * time.Millisecond

	RING_CAPACITY = 16 * 1024 // bytes of sample buffering
	WRITE_CHUNK   = 256       // card bytes programmed per step, a multiple of the flash row

	TICK          = time.Millisecond
	DEBOUNCE      = 30 * time.Millisecond
	HOLD_DURATION = 2 * time.Second

	STROBE_ON    = 150 * time.Millisecond
	STROBE_OFF   = 250 * time.Millisecond
	STROBE_PAUSE = time.Second
)

// EEPROM_ID is returned by the EEPROM read command. The board has no EEPROM
// of its own.
const EEPROM_ID = "pwrlog xiao"
