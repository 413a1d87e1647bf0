package hal

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

// SimADC is an analog.PinADC that always returns the raw value last stored
// with Set.  It stands in for the sensor on machines without an ADC.
type SimADC struct {
	N   string
	Ref ADCRef
	raw atomic.Int32
}

// NewSimADC returns a simulated channel primed with raw.
func NewSimADC(name string, ref ADCRef, raw int32) *SimADC {
	a := &SimADC{N: name, Ref: ref}
	a.raw.Store(raw)
	return a
}

// Set changes the sample returned by subsequent reads.
func (a *SimADC) Set(raw int32) {
	a.raw.Store(raw)
}

// RawForCelsius returns the raw sample a TMP36 would produce at the given
// temperature under ref, rounded to the nearest step.
func RawForCelsius(c float64, ref ADCRef) int32 {
	v := c/100 + 0.5
	return int32(v*float64(ref.MaxRaw)/ref.VRef + 0.5)
}

func (a *SimADC) String() string { return fmt.Sprintf("%s(sim)", a.N) }

// Halt implements conn.Resource.
func (a *SimADC) Halt() error { return nil }

// Name implements pin.Pin.
func (a *SimADC) Name() string { return a.N }

// Number implements pin.Pin.
func (a *SimADC) Number() int { return -1 }

// Function implements pin.Pin.
func (a *SimADC) Function() string { return "ADC" }

// Range implements analog.PinADC.
func (a *SimADC) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, analog.Sample{
		Raw: int32(a.Ref.MaxRaw),
		V:   volts(a.Ref.VRef),
	}
}

// Read implements analog.PinADC.
func (a *SimADC) Read() (analog.Sample, error) {
	if a.Ref.MaxRaw <= 0 {
		return analog.Sample{}, errors.New("sim adc: no reference")
	}
	raw := a.raw.Load()
	return analog.Sample{Raw: raw, V: volts(RawToVolts(raw, a.Ref))}, nil
}

func volts(v float64) physic.ElectricPotential {
	return physic.ElectricPotential(v * float64(physic.Volt))
}

var _ analog.PinADC = (*SimADC)(nil)
