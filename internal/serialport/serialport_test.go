package serialport

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort returns 0, nil once its input is exhausted, the way a serial port
// with a read timeout does.
type fakePort struct {
	in      bytes.Buffer
	out     bytes.Buffer
	timeout time.Duration
	resets  int
}

func (f *fakePort) Read(b []byte) (int, error) {
	if f.in.Len() == 0 {
		return 0, nil
	}
	return f.in.Read(b)
}

func (f *fakePort) Write(b []byte) (int, error) { return f.out.Write(b) }
func (f *fakePort) Close() error                { return nil }

func (f *fakePort) SetReadTimeout(t time.Duration) error {
	f.timeout = t
	return nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.resets++
	f.in.Reset()
	return nil
}

func TestReadLine(t *testing.T) {
	p := &fakePort{}
	p.in.WriteString("Módulo 1 encendido\r\nEspera completada\n")

	line, err := ReadLine(p, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Módulo 1 encendido", line)
	assert.Equal(t, time.Second, p.timeout)

	line, err = ReadLine(p, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Espera completada", line)
}

func TestReadLineTimeout(t *testing.T) {
	p := &fakePort{}
	p.in.WriteString("partial")
	_, err := ReadLine(p, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDrain(t *testing.T) {
	p := &fakePort{}
	p.in.WriteString("Sistema listo\r\n")
	require.NoError(t, Drain(p))
	assert.Equal(t, 1, p.resets)
	assert.Zero(t, p.in.Len())
}

func TestPortInfoString(t *testing.T) {
	assert.Equal(t, "/dev/ttyS0", PortInfo{Name: "/dev/ttyS0"}.String())
	assert.Equal(t, "/dev/ttyACM0 (USB 2341:0043) Arduino Uno",
		PortInfo{Name: "/dev/ttyACM0", USB: true, VID: "2341", PID: "0043", Product: "Arduino Uno"}.String())
}
