// Command rig-sketch runs one of the bench board sketches against the local
// hardware layer, speaking the line protocol on a serial port or on
// stdin/stdout.
//
// Usage:
//
//	rig-sketch [flags]
//
// Flags:
//
//	-variant string   module or led (default "module")
//	-port string      serial device to serve, e.g. /dev/ttyGS0
//	-baud int         line speed (default 9600)
//	-stdio            speak the protocol on stdin/stdout instead of a port
//	-pins string      comma separated BCM pins (default from the variant)
//	-sim-temp float   temperature reported by the simulated sensor (default 22)
//	-log-level string debug, info, warn, error (default "info")
//
// Examples:
//
//	# Interactive session on the terminal
//	rig-sketch -stdio
//
//	# LED board on a USB gadget serial port
//	rig-sketch -variant led -port /dev/ttyGS0
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"labrig/internal/hal"
	"labrig/internal/serialport"
	"labrig/internal/sketch"
)

func main() {
	os.Exit(run())
}

func run() int {
	variant := flag.String("variant", "module", "sketch variant: module or led")
	port := flag.String("port", "", "serial device to serve")
	baud := flag.Int("baud", serialport.DefaultBaud, "line speed")
	stdio := flag.Bool("stdio", false, "use stdin/stdout instead of a serial port")
	pins := flag.String("pins", "", "comma separated BCM pin numbers")
	simTemp := flag.Float64("sim-temp", 22, "temperature of the simulated sensor in °C")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q\n", *logLevel)
		return 2
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	v, err := sketch.VariantByName(*variant)
	if err != nil {
		logger.Error("variant", "err", err)
		return 2
	}
	pinList := v.Pins
	if *pins != "" {
		if pinList, err = parsePins(*pins); err != nil {
			logger.Error("pins", "err", err)
			return 2
		}
	}
	if !*stdio && *port == "" {
		fmt.Fprintln(os.Stderr, "either -port or -stdio is required")
		flag.Usage()
		return 2
	}

	drv, err := hal.Open(hal.Config{
		Pins:     pinList,
		Polarity: v.Polarity,
		Ref:      v.ADC,
		SimRaw:   hal.RawForCelsius(*simTemp, v.ADC),
	})
	if err != nil {
		logger.Error("open hardware", "err", err)
		return 1
	}
	defer func() {
		if err := drv.Halt(); err != nil {
			logger.Error("halt", "err", err)
		}
	}()

	var rw io.ReadWriter
	if *stdio {
		rw = struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}
	} else {
		p, err := serialport.Open(*port, *baud)
		if err != nil {
			logger.Error("open port", "err", err)
			return 1
		}
		defer p.Close()
		// Short reads let the loop notice shutdown between bytes.
		if err := p.SetReadTimeout(100 * time.Millisecond); err != nil {
			logger.Error("set read timeout", "err", err)
			return 1
		}
		rw = p
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("sketch running", "variant", v.Name, "pins", pinList, "port", *port, "stdio", *stdio)
	d := sketch.NewDispatcher(v, drv, sketch.WithLogger(logger))
	err = serve(ctx, rw, d, time.Second)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sketch stopped", "err", err)
		return 1
	}
	return 0
}

// serve runs the sketch until it ends or ctx is done.  A read blocked on a
// terminal cannot be interrupted, so after cancellation the loop gets grace
// to finish and is otherwise abandoned.
func serve(ctx context.Context, rw io.ReadWriter, d *sketch.Dispatcher, grace time.Duration) error {
	errc := make(chan error, 1)
	go func() { errc <- sketch.Run(ctx, rw, d) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	select {
	case err := <-errc:
		return err
	case <-time.After(grace):
		return ctx.Err()
	}
}

func parsePins(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid pin %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}
