// Package tester drives a bench board over its serial line: it sends the
// ON/OFF/WAIT/STATUS/TEMP commands, checks the replies and records what
// happened to an event log and a temperature CSV.
package tester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"labrig/internal/serialport"
)

// ErrNotConnected is returned by Send when no port is attached.
var ErrNotConnected = errors.New("not connected")

// Tester owns one serial connection to a board.
type Tester struct {
	mu      sync.Mutex
	port    serialport.Port
	name    string
	rec     *Recorder
	log     *slog.Logger
	timeout time.Duration
	settle  time.Duration
	modules int
	noun    string
}

// Option configures a Tester.
type Option func(*Tester)

// WithTimeout sets how long to wait for each reply line (default 2s).
func WithTimeout(d time.Duration) Option {
	return func(t *Tester) { t.timeout = d }
}

// WithSettle sets the pause after opening the port, during which the board
// resets (default 2s).
func WithSettle(d time.Duration) Option {
	return func(t *Tester) { t.settle = d }
}

// WithModules sets the number of outputs on the board (default 3).
func WithModules(n int) Option {
	return func(t *Tester) { t.modules = n }
}

// WithNoun sets the word the board uses in its replies ("Módulo" or "LED").
func WithNoun(noun string) Option {
	return func(t *Tester) { t.noun = noun }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tester) { t.log = l }
}

// New returns a disconnected tester recording to rec.
func New(rec *Recorder, opts ...Option) *Tester {
	if rec == nil {
		rec = NewRecorder(nil)
	}
	t := &Tester{
		rec:     rec,
		log:     slog.Default(),
		timeout: 2 * time.Second,
		settle:  2 * time.Second,
		modules: 3,
		noun:    "Módulo",
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Recorder returns the recorder the tester writes to.
func (t *Tester) Recorder() *Recorder {
	return t.rec
}

// Connect opens the named port, waits for the board to come out of reset
// and discards its greeting.
func (t *Tester) Connect(name string, baud int) error {
	p, err := serialport.Open(name, baud)
	if err != nil {
		return err
	}
	time.Sleep(t.settle)
	if err := t.Attach(name, p); err != nil {
		p.Close()
		return err
	}
	t.log.Info("connected", "port", name, "baud", baud)
	return nil
}

// Attach uses an already open port.
func (t *Tester) Attach(name string, p serialport.Port) error {
	if err := serialport.Drain(p); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.port = p
	t.name = name
	return nil
}

// Disconnect closes the port.  It is a no-op when not connected.
func (t *Tester) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.log.Info("disconnected", "port", t.name)
	return err
}

// Send writes cmd and returns the reply lines.  Normally that is the first
// non-empty line; STATUS collects one line per module and WAIT keeps reading
// until the completion line, allowing for the requested delay.
func (t *Tester) Send(cmd string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.send(cmd)
}

func (t *Tester) send(cmd string) ([]string, error) {
	if t.port == nil {
		return nil, ErrNotConnected
	}
	if err := serialport.Drain(t.port); err != nil {
		return nil, err
	}
	if _, err := t.port.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("write %q: %w", cmd, err)
	}
	first, err := t.readReply(t.timeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	lines := []string{first}

	switch {
	case cmd == "STATUS" && strings.HasPrefix(first, t.noun):
		for len(lines) < t.modules {
			l, err := t.readReply(t.timeout)
			if err != nil {
				return lines, fmt.Errorf("%s: %w", cmd, err)
			}
			lines = append(lines, l)
		}
	case strings.HasPrefix(cmd, "WAIT:") && strings.HasPrefix(first, "Esperando"):
		l, err := t.readReply(waitTimeout(first, t.timeout))
		if err != nil {
			return lines, fmt.Errorf("%s: %w", cmd, err)
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// waitTimeout is how long to wait for the completion line after the board
// acknowledged a wait with "Esperando n ms...".  The board's own echo is used
// since it is the delay it actually applies.  The board's long caps it at
// math.MaxInt32 ms.
func waitTimeout(ack string, base time.Duration) time.Duration {
	var ms int64
	if _, err := fmt.Sscanf(ack, "Esperando %d ms", &ms); err != nil || ms < 0 {
		return base
	}
	ms = min(ms, math.MaxInt32)
	return time.Duration(ms)*time.Millisecond + base
}

// readReply returns the next non-empty line.
func (t *Tester) readReply(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return "", serialport.ErrTimeout
		}
		l, err := serialport.ReadLine(t.port, left)
		if err != nil {
			return "", err
		}
		if l = strings.TrimSpace(l); l != "" {
			t.log.Debug("reply", "line", l)
			return l, nil
		}
	}
}

// TurnOn switches module n on and checks the acknowledgment.
func (t *Tester) TurnOn(n int) bool {
	return t.setModule(n, "ON", "encendido")
}

// TurnOff switches module n off and checks the acknowledgment.
func (t *Tester) TurnOff(n int) bool {
	return t.setModule(n, "OFF", "apagado")
}

func (t *Tester) setModule(n int, verb, ack string) bool {
	if n < 1 || n > t.modules {
		t.log.Error("invalid module number", "module", n)
		return false
	}
	lines, err := t.Send(fmt.Sprintf("%s:%d", verb, n))
	if err != nil {
		t.log.Error("command failed", "err", err)
		return false
	}
	want := fmt.Sprintf("%s %d %s", t.noun, n, ack)
	for _, l := range lines {
		if strings.Contains(l, want) {
			t.rec.Event(want)
			return true
		}
	}
	return false
}

// Status returns the state of every module keyed by its 1-based number.
func (t *Tester) Status() (map[int]bool, error) {
	lines, err := t.Send("STATUS")
	if err != nil {
		return nil, err
	}
	return parseStatus(lines, t.noun), nil
}

func parseStatus(lines []string, noun string) map[int]bool {
	out := make(map[int]bool)
	for _, l := range lines {
		if !strings.Contains(l, noun) {
			continue
		}
		f := strings.Fields(l)
		if len(f) < 3 || (f[2] != "ON" && f[2] != "OFF") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(f[1], ":"))
		if err != nil {
			continue
		}
		out[n] = f[2] == "ON"
	}
	return out
}

// Temperature reads the sensor and appends the reading, tagged with event,
// to the CSV.
func (t *Tester) Temperature(event string) (float64, bool) {
	lines, err := t.Send("TEMP")
	if err != nil {
		t.log.Error("command failed", "err", err)
		return 0, false
	}
	for _, l := range lines {
		if v, ok := parseTemperature(l); ok {
			if err := t.rec.Temperature(v, event); err != nil {
				t.log.Error("record temperature", "err", err)
			}
			return v, true
		}
	}
	return 0, false
}

func parseTemperature(line string) (float64, bool) {
	_, rest, ok := strings.Cut(line, "Temperatura:")
	if !ok {
		return 0, false
	}
	rest, _, _ = strings.Cut(rest, "°C")
	v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// RunSequence sends commands in order, cycles times, pausing interval
// between cycles.  A "TEMP:<event>" entry reads the sensor and tags the CSV
// row with event.  It reports false on the first send failure or when ctx is
// cancelled.
func (t *Tester) RunSequence(ctx context.Context, commands []string, cycles int, interval time.Duration) bool {
	t.rec.Event(fmt.Sprintf("Iniciando secuencia de prueba: %d ciclos", cycles))
	for c := 1; c <= cycles; c++ {
		t.rec.Event(fmt.Sprintf("Iniciando ciclo %d/%d", c, cycles))
		for _, cmd := range commands {
			if ctx.Err() != nil {
				t.rec.Event(fmt.Sprintf("Error durante la secuencia de prueba: %v", ctx.Err()))
				return false
			}
			t.rec.Event("Ejecutando comando: " + cmd)
			if event, ok := strings.CutPrefix(cmd, "TEMP:"); ok {
				if _, ok := t.Temperature(event); !ok {
					t.rec.Event("Error durante la secuencia de prueba: lectura de temperatura fallida")
					return false
				}
				continue
			}
			lines, err := t.Send(cmd)
			if err != nil {
				t.rec.Event(fmt.Sprintf("Error durante la secuencia de prueba: %v", err))
				return false
			}
			for _, l := range lines {
				t.rec.Event("Respuesta: " + l)
			}
		}
		if c < cycles && interval > 0 {
			t.rec.Event(fmt.Sprintf("Esperando %s antes del siguiente ciclo", interval))
			select {
			case <-ctx.Done():
				t.rec.Event(fmt.Sprintf("Error durante la secuencia de prueba: %v", ctx.Err()))
				return false
			case <-time.After(interval):
			}
		}
	}
	t.rec.Event("Secuencia de prueba completada")
	return true
}
