// Package serialport opens and enumerates serial devices and reads the
// newline-terminated replies of the bench boards.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaud is the line speed of both sketches.
const DefaultBaud = 9600

// ErrTimeout is returned by ReadLine when no terminator arrives in time.
var ErrTimeout = errors.New("read timeout")

// Port is the part of serial.Port used here.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Open opens name at baud, 8N1.
func Open(name string, baud int) (Port, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return p, nil
}

// PortInfo describes one serial device found on the host.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Product string
}

func (p PortInfo) String() string {
	if !p.USB {
		return p.Name
	}
	s := fmt.Sprintf("%s (USB %s:%s)", p.Name, p.VID, p.PID)
	if p.Product != "" {
		s += " " + p.Product
	}
	return s
}

// List returns every serial port the OS reports.
func List() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, PortInfo{
			Name:    p.Name,
			USB:     p.IsUSB,
			VID:     p.VID,
			PID:     p.PID,
			Product: p.Product,
		})
	}
	return out, nil
}

// ReadLine reads one byte at a time until '\n' and returns the line without
// its terminator or a trailing '\r'.  Reading byte by byte leaves any
// following reply in the port for the next call.
func ReadLine(p Port, timeout time.Duration) (string, error) {
	if err := p.SetReadTimeout(timeout); err != nil {
		return "", fmt.Errorf("set read timeout: %w", err)
	}
	var line []byte
	buf := make([]byte, 1)
	start := time.Now()
	for {
		if time.Since(start) > timeout {
			return "", ErrTimeout
		}
		n, err := p.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		if buf[0] == '\n' {
			return strings.TrimRight(string(line), "\r"), nil
		}
		line = append(line, buf[0])
	}
}

// Drain discards whatever is waiting in the input, such as the greeting a
// board prints after reset.
func Drain(p Port) error {
	if err := p.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input: %w", err)
	}
	return nil
}
