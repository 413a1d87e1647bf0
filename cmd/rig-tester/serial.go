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

	"github.com/chzyer/readline"

	"labrig/internal/serialport"
	"labrig/internal/tester"
)

func runSerial(args []string) int {
	fs := flag.NewFlagSet("serial", flag.ContinueOnError)
	port := fs.String("port", "", "serial device")
	baud := fs.Int("baud", serialport.DefaultBaud, "line speed")
	list := fs.Bool("list", false, "list the available ports and exit")
	cycles := fs.Int("cycles", 1, "times to repeat the sequence")
	sequence := fs.String("sequence", "", "comma separated commands")
	name := fs.String("name", "arduino_test", "base name of the log and CSV files")
	dir := fs.String("dir", ".", "directory for the log and CSV files")
	interval := fs.Duration("interval", 5*time.Second, "pause between cycles")
	led := fs.Bool("led", false, "talk to the LED board")
	interactive := fs.Bool("i", false, "interactive console")
	logLevel := fs.String("log-level", "warn", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	lvl, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q\n", *logLevel)
		return 2
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	if *list {
		ports, err := serialport.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list ports: %v\n", err)
			return 1
		}
		fmt.Println("Puertos disponibles:")
		for _, p := range ports {
			fmt.Printf("  - %s\n", p)
		}
		return 0
	}

	if *port == "" {
		p, err := choosePort()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		*port = p
	}

	opts := []tester.Option{tester.WithLogger(logger)}
	if *led {
		opts = append(opts, tester.WithNoun("LED"))
	}
	rec := tester.NewRecorder(os.Stdout)
	t := tester.New(rec, opts...)
	if err := t.Connect(*port, *baud); err != nil {
		fmt.Fprintf(os.Stderr, "No se pudo establecer conexión con Arduino: %v\n", err)
		return 1
	}
	defer t.Disconnect()

	if _, _, err := rec.Start(*dir, *name); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() {
		rec.Event("Registro finalizado")
		if err := rec.Close(); err != nil {
			logger.Error("close recorder", "err", err)
		}
	}()

	if *interactive {
		if err := console(t); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if !t.RunSequence(ctx, splitSequence(*sequence), *cycles, *interval) {
		fmt.Fprintln(os.Stderr, "Error durante la ejecución de la secuencia de prueba")
		return 1
	}
	return 0
}

func splitSequence(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// choosePort lists the ports and asks which one to use.
func choosePort() (string, error) {
	ports, err := serialport.List()
	if err != nil {
		return "", fmt.Errorf("list ports: %w", err)
	}
	if len(ports) == 0 {
		return "", errors.New("No se encontraron puertos seriales disponibles")
	}
	fmt.Println("Puertos disponibles:")
	for i, p := range ports {
		fmt.Printf("  %d. %s\n", i+1, p)
	}

	rl, err := readline.New(fmt.Sprintf("Seleccione un puerto (1-%d): ", len(ports)))
	if err != nil {
		return "", err
	}
	defer rl.Close()
	line, err := rl.Readline()
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return "", errors.New("Entrada inválida")
	}
	if n < 1 || n > len(ports) {
		return "", errors.New("Selección inválida")
	}
	return ports[n-1].Name, nil
}

// console reads commands from the terminal until EOF or "exit".  "temp
// [event]" reads and records a temperature; anything else is sent as-is.
func console(t *tester.Tester) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "rig> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()
	out := rl.Stdout()

	fmt.Fprintln(out, "Comandos: ON:n, OFF:n, WAIT:ms, STATUS, TEMP, temp [evento], exit")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case line == "temp" || strings.HasPrefix(line, "temp "):
			event := strings.TrimSpace(strings.TrimPrefix(line, "temp"))
			if c, ok := t.Temperature(event); ok {
				fmt.Fprintf(out, "%.2f °C\n", c)
			} else {
				fmt.Fprintln(out, "lectura de temperatura fallida")
			}
			continue
		}
		t.Recorder().Event("Ejecutando comando: " + line)
		lines, err := t.Send(line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		for _, l := range lines {
			t.Recorder().Event("Respuesta: " + l)
		}
	}
}
