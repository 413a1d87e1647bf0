package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Event is one line of the event log.
type Event struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// EventLogger writes timestamped events to a file and forwards each one to
// an optional publisher.  It is safe for concurrent use.
type EventLogger struct {
	filePath string
	mu       sync.Mutex
	publish  func(Event)
}

// NewEventLogger creates a logger appending to filePath.
func NewEventLogger(filePath string) *EventLogger {
	return &EventLogger{filePath: filePath}
}

// SetPublisher registers fn to receive every logged event.
func (el *EventLogger) SetPublisher(fn func(Event)) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.publish = fn
}

// Log writes a single event with timestamp.  Write errors are reported
// through slog and otherwise ignored.
func (el *EventLogger) Log(format string, args ...any) {
	ev := Event{Time: time.Now(), Message: fmt.Sprintf(format, args...)}

	el.mu.Lock()
	publish := el.publish
	line := fmt.Sprintf("%s - %s\n", ev.Time.Format(time.RFC3339), ev.Message)
	f, err := os.OpenFile(el.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("event log", "path", el.filePath, "err", err)
	} else {
		if _, err := f.WriteString(line); err != nil {
			slog.Error("event log write", "path", el.filePath, "err", err)
		}
		f.Close()
	}
	el.mu.Unlock()

	slog.Debug("event", "msg", ev.Message)
	if publish != nil {
		publish(ev)
	}
}

// errNoLog is returned by Tail when the event log has not been created yet.
var errNoLog = errors.New("event log not found")

// Tail returns at most n of the most recent lines.
func (el *EventLogger) Tail(n int) ([]string, error) {
	el.mu.Lock()
	data, err := os.ReadFile(el.filePath)
	el.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNoLog
		}
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
