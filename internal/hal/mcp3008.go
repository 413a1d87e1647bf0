package hal

import (
	"fmt"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// MCP3008 reads one single-ended input of a Microchip MCP3008 10-bit ADC.
// The Raspberry Pi has no analog inputs, so the TMP36 is wired through one.
type MCP3008 struct {
	conn    spi.Conn
	channel int
	ref     ADCRef
}

// NewMCP3008 connects to the chip on port.  channel must be 0..7.
func NewMCP3008(port spi.Port, channel int, vref float64) (*MCP3008, error) {
	if channel < 0 || channel > 7 {
		return nil, fmt.Errorf("mcp3008: channel %d out of range", channel)
	}
	c, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("mcp3008: connect: %w", err)
	}
	return &MCP3008{conn: c, channel: channel, ref: ADCRef{VRef: vref, MaxRaw: 1023}}, nil
}

func (m *MCP3008) String() string { return fmt.Sprintf("MCP3008.CH%d", m.channel) }

// Halt implements conn.Resource.
func (m *MCP3008) Halt() error { return nil }

// Name implements pin.Pin.
func (m *MCP3008) Name() string { return m.String() }

// Number implements pin.Pin.
func (m *MCP3008) Number() int { return m.channel }

// Function implements pin.Pin.
func (m *MCP3008) Function() string { return "ADC" }

// Range implements analog.PinADC.
func (m *MCP3008) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, analog.Sample{Raw: 1023, V: volts(m.ref.VRef)}
}

// Read implements analog.PinADC.  The request is start bit, single-ended
// flag plus channel, then one padding byte; the 10-bit result comes back in
// the low two bits of the second byte and the whole third byte.
func (m *MCP3008) Read() (analog.Sample, error) {
	w := []byte{0x01, byte(0x80 | m.channel<<4), 0x00}
	r := make([]byte, 3)
	if err := m.conn.Tx(w, r); err != nil {
		return analog.Sample{}, fmt.Errorf("mcp3008: %w", err)
	}
	raw := int32(r[1]&0x03)<<8 | int32(r[2])
	return analog.Sample{Raw: raw, V: volts(RawToVolts(raw, m.ref))}, nil
}

var _ analog.PinADC = (*MCP3008)(nil)
