// Package hal is the pin and sensor driver shared by the sketches and the REST
// controller.  It maps 0-based module indices onto digital output pins and
// turns raw samples from a TMP36 analog temperature sensor into degrees
// Celsius.  Pins and the ADC are periph.io interfaces so that the same driver
// runs against real hardware on a Raspberry Pi and against fakes everywhere
// else.
package hal

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
)

var (
	// ErrInvalidModule is returned when a module index is outside the table.
	ErrInvalidModule = errors.New("invalid module index")
	// ErrNoADC is returned by ReadTemperature when no ADC is attached.
	ErrNoADC = errors.New("no ADC configured")
)

// Polarity selects which logic level switches a module on.
type Polarity int

const (
	// ActiveHigh drives the pin high to switch the module on.
	ActiveHigh Polarity = iota
	// ActiveLow drives the pin low to switch the module on.
	ActiveLow
)

// Level returns the pin level that represents the given on/off state.
func (p Polarity) Level(on bool) gpio.Level {
	if p == ActiveLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

func (p Polarity) String() string {
	if p == ActiveLow {
		return "active_low"
	}
	return "active_high"
}

// ParsePolarity accepts "active_high" or "active_low".  An empty string is
// treated as active_high.
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "", "active_high", "high":
		return ActiveHigh, nil
	case "active_low", "low":
		return ActiveLow, nil
	default:
		return ActiveHigh, fmt.Errorf("unknown polarity %q", s)
	}
}

// ADCRef describes how a raw sample maps to a voltage: volts = raw * VRef / MaxRaw.
type ADCRef struct {
	VRef   float64
	MaxRaw int
}

var (
	// ModuleSketchADC is the 5 V / 10-bit reference of the module sketch.
	ModuleSketchADC = ADCRef{VRef: 5.0, MaxRaw: 1023}
	// LEDSketchADC is the reference of the LED sketch board.
	LEDSketchADC = ADCRef{VRef: 5.0, MaxRaw: 1023}
	// RESTADC is the 3.3 V / 10-bit reference used by the REST controller.
	RESTADC = ADCRef{VRef: 3.3, MaxRaw: 1023}
)

// RefForBits builds a reference for an ADC of the given resolution.
func RefForBits(vref float64, bits int) ADCRef {
	return ADCRef{VRef: vref, MaxRaw: (1 << bits) - 1}
}

// RawToVolts converts a raw sample using the reference.
func RawToVolts(raw int32, ref ADCRef) float64 {
	return float64(raw) * ref.VRef / float64(ref.MaxRaw)
}

// TMP36Celsius applies the TMP36 transfer function: 10 mV/°C with a 0.5 V
// offset at 0 °C.  The result is not clamped.
func TMP36Celsius(volts float64) float64 {
	return (volts - 0.5) * 100
}

// Module is one controllable output channel.  Index is 0-based; the serial
// and HTTP protocols number modules from 1.
type Module struct {
	Index int
	Pin   gpio.PinOut
	On    bool
}

// Reading is a single converted temperature sample.
type Reading struct {
	Raw     int32
	Volts   float64
	Celsius float64
}

// Driver owns a fixed-size table of modules and one analog channel.  It is
// safe for concurrent use.
type Driver struct {
	mu       sync.Mutex
	modules  []Module
	polarity Polarity
	adc      analog.PinADC
	ref      ADCRef
}

// New builds a driver over the given pins and drives every pin to its "off"
// level.  adc may be nil, in which case ReadTemperature returns ErrNoADC.
func New(pins []gpio.PinOut, adc analog.PinADC, pol Polarity, ref ADCRef) (*Driver, error) {
	if ref.MaxRaw <= 0 {
		return nil, fmt.Errorf("invalid ADC reference: max raw %d", ref.MaxRaw)
	}
	d := &Driver{
		modules:  make([]Module, len(pins)),
		polarity: pol,
		adc:      adc,
		ref:      ref,
	}
	for i, p := range pins {
		if p == nil {
			return nil, fmt.Errorf("module %d: nil pin", i+1)
		}
		if err := p.Out(pol.Level(false)); err != nil {
			return nil, fmt.Errorf("module %d: init %s: %w", i+1, p, err)
		}
		d.modules[i] = Module{Index: i, Pin: p}
	}
	return d, nil
}

// Len returns the number of modules.
func (d *Driver) Len() int {
	return len(d.modules)
}

// Polarity returns the polarity the driver was built with.
func (d *Driver) Polarity() Polarity {
	return d.polarity
}

// Ref returns the ADC reference.
func (d *Driver) Ref() ADCRef {
	return d.ref
}

// SetState writes the pin of module index.  On error the recorded state is
// left unchanged.
func (d *Driver) SetState(index int, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.modules) {
		return fmt.Errorf("%w: %d", ErrInvalidModule, index)
	}
	m := &d.modules[index]
	if err := m.Pin.Out(d.polarity.Level(on)); err != nil {
		return fmt.Errorf("module %d: write %s: %w", index+1, m.Pin, err)
	}
	m.On = on
	return nil
}

// State returns the recorded state of module index.
func (d *Driver) State(index int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.modules) {
		return false, fmt.Errorf("%w: %d", ErrInvalidModule, index)
	}
	return d.modules[index].On, nil
}

// States returns the on/off state of every module in index order.
func (d *Driver) States() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]bool, len(d.modules))
	for i, m := range d.modules {
		out[i] = m.On
	}
	return out
}

// ReadTemperature takes one sample from the ADC and converts it.  No
// filtering or averaging is applied.
func (d *Driver) ReadTemperature() (Reading, error) {
	if d.adc == nil {
		return Reading{}, ErrNoADC
	}
	s, err := d.adc.Read()
	if err != nil {
		return Reading{}, fmt.Errorf("read %s: %w", d.adc, err)
	}
	v := RawToVolts(s.Raw, d.ref)
	return Reading{Raw: s.Raw, Volts: v, Celsius: TMP36Celsius(v)}, nil
}

// Halt switches every module off.  Errors from individual pins are joined.
func (d *Driver) Halt() error {
	var errs []error
	for i := range d.modules {
		if err := d.SetState(i, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config describes the hardware a driver is opened against.
type Config struct {
	// Pins are BCM GPIO numbers, one per module.
	Pins     []int
	Polarity Polarity
	Ref      ADCRef
	// SPIPort names the SPI port of the MCP3008 ("" picks the first one).
	SPIPort string
	// Channel is the MCP3008 input the TMP36 is wired to.
	Channel int
	// SimRaw is the raw sample returned by the simulated ADC.
	SimRaw int32
}
