// Package sketch implements the line-based serial command protocol spoken by
// the bench boards: ON:n, OFF:n, WAIT:n, STATUS and TEMP, one command per
// newline-terminated line, one or more text replies per command.
package sketch

import (
	"errors"
	"fmt"
	"strings"

	"labrig/internal/hal"
)

// ErrUnknownVariant is returned by VariantByName.
var ErrUnknownVariant = errors.New("unknown sketch variant")

// Variant captures what differs between the two boards: the noun used in
// replies, which level switches an output on, the ADC reference and which
// of the optional commands are understood.
type Variant struct {
	Name     string
	Noun     string
	Polarity hal.Polarity
	ADC      hal.ADCRef
	// Pins are the default BCM numbers for the outputs.
	Pins   []int
	Status bool
	Temp   bool
}

var (
	// ModuleSketch drives relay modules, which switch on with a low level,
	// and reports STATUS and TEMP.
	ModuleSketch = Variant{
		Name:     "module",
		Noun:     "Módulo",
		Polarity: hal.ActiveLow,
		ADC:      hal.ModuleSketchADC,
		Pins:     []int{17, 27, 22},
		Status:   true,
		Temp:     true,
	}
	// LEDSketch drives plain LEDs, which switch on with a high level.  It
	// only understands ON, OFF and WAIT.
	LEDSketch = Variant{
		Name:     "led",
		Noun:     "LED",
		Polarity: hal.ActiveHigh,
		ADC:      hal.LEDSketchADC,
		Pins:     []int{5, 6, 13},
	}
)

// VariantByName returns the preset called name ("module" or "led").
func VariantByName(name string) (Variant, error) {
	switch strings.ToLower(name) {
	case ModuleSketch.Name:
		return ModuleSketch, nil
	case LEDSketch.Name:
		return LEDSketch, nil
	}
	return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
}
