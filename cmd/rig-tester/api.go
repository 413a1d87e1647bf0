package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"labrig/internal/client"
	"labrig/internal/suite"
)

func runAPI(args []string) int {
	fs := flag.NewFlagSet("api", flag.ContinueOnError)
	url := fs.String("url", "http://localhost:5000", "base URL of the controller")
	test := fs.String("test", suite.PresetAll, "encendido, temperatura, estres or todas")
	suiteFile := fs.String("suite", "", "YAML suite file")
	report := fs.String("report", "", "write the JSON summary to this file")
	user := fs.String("user", "", "basic auth user")
	password := fs.String("password", "", "basic auth password")
	modules := fs.Int("modules", client.DefaultModuleCount, "number of modules on the controller")
	logDir := fs.String("log-dir", ".", "directory for the run log")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	lvl, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q\n", *logLevel)
		return 2
	}
	logPath := filepath.Join(*logDir, fmt.Sprintf("pruebas_meadow_%s.log", time.Now().Format("20060102_150405")))
	logFile, err := os.Create(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create run log: %v\n", err)
		return 1
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, logFile), &slog.HandlerOptions{Level: lvl}))

	var seqs []suite.Sequence
	if *suiteFile != "" {
		seqs, err = suite.LoadFile(*suiteFile)
	} else {
		seqs, err = suite.Preset(*test)
	}
	if err != nil {
		logger.Error("No se ha seleccionado ninguna prueba válida", "err", err)
		return 2
	}
	if len(seqs) == 0 {
		logger.Error("No se ha seleccionado ninguna prueba válida")
		return 2
	}

	opts := []client.Option{client.WithLogger(logger), client.WithModuleCount(*modules)}
	if *user != "" {
		opts = append(opts, client.WithBasicAuth(*user, *password))
	}
	c := client.New(*url, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	summary := suite.Run(ctx, c, seqs, suite.WithLogger(logger), suite.WithURL(c.BaseURL()))

	if err := suite.WriteSummary(os.Stdout, summary); err != nil {
		logger.Error("write summary", "err", err)
	}
	if *report != "" {
		if err := suite.SaveJSON(*report, summary); err != nil {
			logger.Error("save report", "err", err)
			return 1
		}
		logger.Info("report saved", "path", *report)
	}
	if !summary.OK {
		return 1
	}
	return 0
}
