//go:build linux && (arm || arm64) && !disablegpio

// This file provides a Raspberry Pi implementation of Open using the
// periph.io library.  When building for other platforms or with the build
// tag "disablegpio", hal_stub.go is used instead.

package hal

import (
	"fmt"

	// Use the new periph module layout.  See https://periph.io/news/2020/a_new_start/
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Open initialises the periph host, resolves every module pin by its BCM
// number and attaches the MCP3008 carrying the TMP36.  If no SPI port can be
// opened the driver falls back to a simulated sensor so that the outputs
// remain usable.
func Open(cfg Config) (*Driver, error) {
	// host.Init can safely be called multiple times; subsequent calls are no-ops.
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	pins := make([]gpio.PinOut, len(cfg.Pins))
	for i, n := range cfg.Pins {
		p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
		if p == nil {
			return nil, fmt.Errorf("module %d: no such pin GPIO%d", i+1, n)
		}
		pins[i] = p
	}
	var adc analog.PinADC
	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		adc = NewSimADC("TMP36", cfg.Ref, cfg.SimRaw)
	} else {
		m, err := NewMCP3008(port, cfg.Channel, cfg.Ref.VRef)
		if err != nil {
			port.Close()
			return nil, err
		}
		adc = m
	}
	return New(pins, adc, cfg.Polarity, cfg.Ref)
}
