package tester

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// CSVHeader is the first row of every temperature file.
var CSVHeader = []string{"Timestamp", "Temperatura (°C)", "Evento"}

const stampLayout = "2006-01-02 15:04:05"

// Recorder keeps the event log and the temperature CSV of one test run.
// Events are echoed to the console writer even when no files are open.
type Recorder struct {
	mu      sync.Mutex
	console io.Writer
	logFile *os.File
	csvFile *os.File
	csv     *csv.Writer
	now     func() time.Time
}

// NewRecorder returns a recorder echoing to console (nil discards).
func NewRecorder(console io.Writer) *Recorder {
	if console == nil {
		console = io.Discard
	}
	return &Recorder{console: console, now: time.Now}
}

// Start creates <base>_log_<ts>.txt and <base>_temp_<ts>.csv in dir and
// returns their paths.
func (r *Recorder) Start(dir, base string) (logPath, csvPath string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.logFile != nil {
		return "", "", fmt.Errorf("recorder already started")
	}
	if base == "" {
		base = "arduino_test"
	}
	now := r.now()
	ts := now.Format("20060102_150405")
	logPath = filepath.Join(dir, fmt.Sprintf("%s_log_%s.txt", base, ts))
	csvPath = filepath.Join(dir, fmt.Sprintf("%s_temp_%s.csv", base, ts))

	lf, err := os.Create(logPath)
	if err != nil {
		return "", "", fmt.Errorf("create event log: %w", err)
	}
	if _, err := fmt.Fprintf(lf, "=== Registro de pruebas Arduino - %s ===\n\n", now.Format(stampLayout)); err != nil {
		lf.Close()
		return "", "", fmt.Errorf("write event log: %w", err)
	}
	cf, err := os.Create(csvPath)
	if err != nil {
		lf.Close()
		return "", "", fmt.Errorf("create temperature csv: %w", err)
	}
	w := csv.NewWriter(cf)
	if err := w.Write(CSVHeader); err != nil {
		lf.Close()
		cf.Close()
		return "", "", fmt.Errorf("write csv header: %w", err)
	}
	w.Flush()

	r.logFile, r.csvFile, r.csv = lf, cf, w
	fmt.Fprintf(r.console, "Registro iniciado: %s y %s\n", logPath, csvPath)
	return logPath, csvPath, nil
}

// Event prints "[ts] msg" and appends it to the event log.
func (r *Recorder) Event(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := fmt.Sprintf("[%s] %s", r.now().Format(stampLayout), msg)
	fmt.Fprintln(r.console, line)
	if r.logFile != nil {
		fmt.Fprintln(r.logFile, line)
	}
}

// Temperature appends one CSV row.
func (r *Recorder) Temperature(celsius float64, event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.csv == nil {
		return nil
	}
	row := []string{
		r.now().Format(stampLayout),
		strconv.FormatFloat(celsius, 'f', 2, 64),
		event,
	}
	if err := r.csv.Write(row); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	r.csv.Flush()
	return r.csv.Error()
}

// Close flushes and closes both files.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	if r.csv != nil {
		r.csv.Flush()
		firstErr = r.csv.Error()
		r.csv = nil
	}
	for _, f := range []*os.File{r.csvFile, r.logFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.csvFile, r.logFile = nil, nil
	return firstErr
}
