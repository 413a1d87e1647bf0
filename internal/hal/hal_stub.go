//go:build !linux || !(arm || arm64) || disablegpio

package hal

// This file provides the HAL on machines without Raspberry Pi GPIO.  Pins are
// periph.io gpiotest fakes and the sensor is a SimADC, so the sketches and the
// REST controller can be run and tested on a desktop.  hal_rpi.go is used
// instead on the Pi.

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// Open builds a driver over fake pins.  Each pin is named after the BCM
// number it would use on the Pi.
func Open(cfg Config) (*Driver, error) {
	pins := make([]gpio.PinOut, len(cfg.Pins))
	for i, n := range cfg.Pins {
		pins[i] = &gpiotest.Pin{N: fmt.Sprintf("GPIO%d", n), Num: n, Fn: "Out"}
	}
	adc := NewSimADC("TMP36", cfg.Ref, cfg.SimRaw)
	return New(pins, adc, cfg.Polarity, cfg.Ref)
}
