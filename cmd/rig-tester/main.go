// Command rig-tester exercises a bench board, either directly over its serial
// line or through the REST controller.
//
// Usage:
//
//	rig-tester serial [flags]   drive a board over a serial port
//	rig-tester api [flags]      run the automated suite against the REST API
//
// Serial flags:
//
//	-port string       serial device (prompted for when empty)
//	-baud int          line speed (default 9600)
//	-list              list the available ports and exit
//	-cycles int        times to repeat the sequence (default 1)
//	-sequence string   comma separated commands, e.g. ON:1,WAIT:500,TEMP:pico,OFF:1
//	-name string       base name of the log and CSV files (default "arduino_test")
//	-dir string        directory for the log and CSV files (default ".")
//	-interval duration pause between cycles (default 5s)
//	-led               talk to the LED board instead of the module board
//	-i                 interactive console
//
// API flags:
//
//	-url string        base URL of the controller (default "http://localhost:5000")
//	-test string       encendido, temperatura, estres or todas (default "todas")
//	-suite string      YAML suite file, overrides -test
//	-report string     write the JSON summary to this file
//	-user, -password   basic auth credentials
//	-modules int       number of modules on the controller (default 3)
package main

import (
	"fmt"
	"log/slog"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	switch args[0] {
	case "serial":
		return runSerial(args[1:])
	case "api":
		return runAPI(args[1:])
	case "-h", "-help", "--help", "help":
		usage()
		return 0
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
	usage()
	return 2
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rig-tester serial|api [flags]")
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}
