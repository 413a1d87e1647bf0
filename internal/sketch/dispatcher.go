package sketch

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"labrig/internal/hal"
)

// Command prefixes and tokens understood by the boards.
const (
	CmdOn     = "ON:"
	CmdOff    = "OFF:"
	CmdWait   = "WAIT:"
	CmdStatus = "STATUS"
	CmdTemp   = "TEMP"
)

// Dispatcher maps one received line onto a driver operation and writes the
// acknowledgment.  It holds no state of its own besides the driver.
type Dispatcher struct {
	variant Variant
	driver  *hal.Driver
	sleep   func(time.Duration)
	log     *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSleep replaces the blocking delay used by WAIT.
func WithSleep(fn func(time.Duration)) Option {
	return func(d *Dispatcher) { d.sleep = fn }
}

// WithLogger sets the logger used for per-command diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher returns a dispatcher for variant v over drv.
func NewDispatcher(v Variant, drv *hal.Driver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		variant: v,
		driver:  drv,
		sleep:   time.Sleep,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Variant returns the variant the dispatcher was built for.
func (d *Dispatcher) Variant() Variant {
	return d.variant
}

// Dispatch executes line and writes every reply line to w.  The only error
// returned is a write error; protocol errors are reported as reply text.
func (d *Dispatcher) Dispatch(w io.Writer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	d.log.Debug("command", "variant", d.variant.Name, "line", line)
	r := replier{w: w}
	switch {
	case strings.HasPrefix(line, CmdOn):
		d.setState(&r, toInt(line[len(CmdOn):]), true)
	case strings.HasPrefix(line, CmdOff):
		d.setState(&r, toInt(line[len(CmdOff):]), false)
	case strings.HasPrefix(line, CmdWait):
		d.wait(&r, toInt(line[len(CmdWait):]))
	case line == CmdStatus && d.variant.Status:
		d.status(&r)
	case line == CmdTemp && d.variant.Temp:
		d.temperature(&r)
	default:
		r.printf("Comando no reconocido: %s", line)
	}
	return r.err
}

func (d *Dispatcher) setState(r *replier, n int, on bool) {
	if n < 1 || n > d.driver.Len() {
		r.printf("Error: %s inválido (%d)", d.variant.Noun, n)
		return
	}
	if err := d.driver.SetState(n-1, on); err != nil {
		r.printf("Error: %v", err)
		return
	}
	if on {
		r.printf("%s %d encendido", d.variant.Noun, n)
	} else {
		r.printf("%s %d apagado", d.variant.Noun, n)
	}
}

// wait blocks the caller for ms milliseconds.  Nothing else is read from the
// line while it sleeps, so commands sent meanwhile queue up in the input.
func (d *Dispatcher) wait(r *replier, ms int) {
	if ms < 0 {
		r.printf("Error: tiempo inválido (%d)", ms)
		return
	}
	r.printf("Esperando %d ms...", ms)
	if ms > 0 {
		d.sleep(time.Duration(ms) * time.Millisecond)
	}
	r.printf("Espera completada")
}

func (d *Dispatcher) status(r *replier) {
	for i, on := range d.driver.States() {
		state := "OFF"
		if on {
			state = "ON"
		}
		r.printf("%s %d: %s", d.variant.Noun, i+1, state)
	}
}

func (d *Dispatcher) temperature(r *replier) {
	rd, err := d.driver.ReadTemperature()
	if err != nil {
		r.printf("Error: %v", err)
		return
	}
	r.printf("Temperatura: %.2f °C", rd.Celsius)
}

// toInt parses the way the boards' String.toInt does: optional leading
// whitespace and sign followed by digits, stopping at the first other
// character.  Input without leading digits yields 0.  Values past the
// board's 32-bit long saturate at its bounds.
func toInt(s string) int {
	s = strings.TrimLeft(s, " \t")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	var limit int64 = math.MaxInt32
	if neg {
		limit = -math.MinInt32
	}
	var n int64
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		d := int64(s[i] - '0')
		if n > (limit-d)/10 {
			n = limit
			break
		}
		n = n*10 + d
	}
	if neg {
		return int(-n)
	}
	return int(n)
}

// replier writes CRLF-terminated lines and keeps the first write error.
type replier struct {
	w   io.Writer
	err error
}

func (r *replier) printf(format string, args ...any) {
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintf(r.w, format+"\r\n", args...)
}
