package main

// This file defines pluggable alert handlers for out-of-range temperatures.

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// TemperatureAlert describes one reading that crossed a configured limit.
type TemperatureAlert struct {
	Celsius float64
	Limit   float64
	Above   bool // true when Limit is the maximum
	Event   string
	Time    time.Time
}

func (a TemperatureAlert) String() string {
	dir, bound := "below minimum", "min"
	if a.Above {
		dir, bound = "above maximum", "max"
	}
	s := fmt.Sprintf("temperature %.2f °C %s (%s %.2f °C)", a.Celsius, dir, bound, a.Limit)
	if a.Event != "" {
		s += fmt.Sprintf(" during %q", a.Event)
	}
	return s
}

// AlertHandler delivers a TemperatureAlert.  If Send returns an error the
// caller logs it and carries on.
type AlertHandler interface {
	Name() string
	Send(alert TemperatureAlert, logger *EventLogger) error
}

// LogAlert writes the alert to the event log.  It is the default handler
// when no other alerts are configured.
type LogAlert struct{}

// Name returns the type name of the alert handler.
func (LogAlert) Name() string { return "log" }

// Send writes an alert to the event log.
func (LogAlert) Send(alert TemperatureAlert, logger *EventLogger) error {
	logger.Log("alert: %s", alert)
	return nil
}

// EmailAlert sends an email via an SMTP server.  The subject defaults to
// "labrig temperature alert" if empty.
type EmailAlert struct {
	SMTPServer string
	SMTPPort   int
	Username   string
	Password   string
	From       string
	To         string
	Subject    string

	// sendMail is smtp.SendMail unless replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// Name returns the type name of the alert handler.
func (EmailAlert) Name() string { return "email" }

// Send dispatches a minimal plaintext message.
func (e EmailAlert) Send(alert TemperatureAlert, logger *EventLogger) error {
	subject := e.Subject
	if subject == "" {
		subject = "labrig temperature alert"
	}
	body := fmt.Sprintf("%s at %s", alert, alert.Time.Format(time.RFC3339))
	// RFC 5322 requires CRLF line endings.
	msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", e.To, subject, body)
	addr := fmt.Sprintf("%s:%d", e.SMTPServer, e.SMTPPort)
	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.SMTPServer)
	}
	send := e.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	if err := send(addr, auth, e.From, []string{e.To}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", e.To, err)
	}
	return nil
}

// initAlertHandlers builds the configured handlers.  Unknown types are
// skipped; an empty result falls back to a single LogAlert so that limit
// crossings are always recorded.
func initAlertHandlers(cfg Config) []AlertHandler {
	var handlers []AlertHandler
	for _, ac := range cfg.Alerts {
		switch strings.ToLower(ac.Type) {
		case "log":
			handlers = append(handlers, LogAlert{})
		case "email":
			handlers = append(handlers, EmailAlert{
				SMTPServer: ac.SMTPServer,
				SMTPPort:   ac.SMTPPort,
				Username:   ac.Username,
				Password:   ac.Password,
				From:       ac.From,
				To:         ac.To,
				Subject:    ac.Subject,
			})
		}
	}
	if len(handlers) == 0 {
		handlers = append(handlers, LogAlert{})
	}
	return handlers
}
