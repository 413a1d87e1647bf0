// Package suite runs scripted test sequences against a REST controller and
// reports a per-step pass/fail record.
package suite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Controller is the remote surface a sequence drives.  *client.Client
// satisfies it.
type Controller interface {
	TurnOn(ctx context.Context, n int) bool
	TurnOff(ctx context.Context, n int) bool
	Temperature(ctx context.Context, event string) (float64, bool)
	Wait(ctx context.Context, ms int) bool
	Status(ctx context.Context) (map[int]bool, bool)
}

// Sequence is one named test.
type Sequence interface {
	Name() string
	Description() string
	Run(ctx context.Context, c Controller, r *Result) bool
}

// Step is one recorded check.
type Step struct {
	Time    time.Time `json:"timestamp"`
	Name    string    `json:"step"`
	OK      bool      `json:"ok"`
	Value   any       `json:"value,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Result collects the steps of one sequence run.
type Result struct {
	name  string
	desc  string
	steps []Step
	log   *slog.Logger
	now   func() time.Time
}

// NewResult returns an empty result for seq.
func NewResult(seq Sequence, log *slog.Logger) *Result {
	if log == nil {
		log = slog.Default()
	}
	return &Result{name: seq.Name(), desc: seq.Description(), log: log, now: time.Now}
}

// Record appends a step and logs it at info or error level.
func (r *Result) Record(step string, ok bool, value any, msg string) {
	r.steps = append(r.steps, Step{Time: r.now(), Name: step, OK: ok, Value: value, Message: msg})

	state := "ÉXITO"
	if !ok {
		state = "FALLO"
	}
	line := fmt.Sprintf("[%s] %s: %s", r.name, step, state)
	if value != nil {
		line += fmt.Sprintf(" - Valor: %v", value)
	}
	if msg != "" {
		line += " - " + msg
	}
	if ok {
		r.log.Info(line)
	} else {
		r.log.Error(line)
	}
}

// Steps returns the recorded steps.
func (r *Result) Steps() []Step {
	return r.steps
}

// Report is the outcome of one sequence.
type Report struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`
	TotalSteps  int        `json:"total_steps"`
	PassedSteps int        `json:"passed_steps"`
	SuccessRate float64    `json:"success_rate"`
	Steps       []Step     `json:"steps"`
}

// Report summarises the recorded steps.
func (r *Result) Report() Report {
	rep := Report{
		Name:        r.name,
		Description: r.desc,
		TotalSteps:  len(r.steps),
		Steps:       r.steps,
	}
	for _, s := range r.steps {
		if s.OK {
			rep.PassedSteps++
		}
	}
	if n := len(r.steps); n > 0 {
		start, end := r.steps[0].Time, r.steps[n-1].Time
		rep.Start, rep.End = &start, &end
		rep.SuccessRate = float64(rep.PassedSteps) / float64(n) * 100
	}
	return rep
}

// Summary is the outcome of a whole run.
type Summary struct {
	RunID    string    `json:"run_id"`
	URL      string    `json:"url,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration float64   `json:"duration_seconds"`
	Total    int       `json:"total_tests"`
	Passed   int       `json:"passed_tests"`
	OK       bool      `json:"ok"`
	Results  []Report  `json:"results"`
}

// RunOption configures Run.
type RunOption func(*runConfig)

type runConfig struct {
	log *slog.Logger
	url string
}

// WithLogger sets where steps and progress are logged.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) { c.log = l }
}

// WithURL records the controller address in the summary.
func WithURL(u string) RunOption {
	return func(c *runConfig) { c.url = u }
}

// Run executes seqs in order.  A sequence counts as passed when every one of
// its steps passed; the run is OK when every sequence reported success.
func Run(ctx context.Context, c Controller, seqs []Sequence, opts ...RunOption) Summary {
	cfg := runConfig{log: slog.Default()}
	for _, o := range opts {
		o(&cfg)
	}
	s := Summary{
		RunID: uuid.New().String(),
		URL:   cfg.url,
		Start: time.Now(),
		Total: len(seqs),
		OK:    true,
	}
	cfg.log.Info(fmt.Sprintf("Iniciando ejecución de %d pruebas", len(seqs)), "run_id", s.RunID, "url", cfg.url)

	for _, seq := range seqs {
		if ctx.Err() != nil {
			cfg.log.Error("run cancelled", "err", ctx.Err())
			s.OK = false
			break
		}
		r := NewResult(seq, cfg.log)
		cfg.log.Info(fmt.Sprintf("Iniciando %s: %s", seq.Name(), seq.Description()))
		ok := seq.Run(ctx, c, r)
		cfg.log.Info(fmt.Sprintf("Finalizada prueba %s: %s", seq.Name(), verdict(ok)))
		rep := r.Report()
		s.Results = append(s.Results, rep)
		if rep.TotalSteps > 0 && rep.PassedSteps == rep.TotalSteps {
			s.Passed++
		}
		s.OK = s.OK && ok
	}

	s.End = time.Now()
	s.Duration = s.End.Sub(s.Start).Seconds()
	cfg.log.Info(fmt.Sprintf("Finalizada ejecución de pruebas: %s", verdict(s.OK)),
		"duration", fmt.Sprintf("%.2fs", s.Duration))
	return s
}

func verdict(ok bool) string {
	if ok {
		return "ÉXITO"
	}
	return "FALLO"
}

// WriteSummary prints the human-readable summary.
func WriteSummary(w io.Writer, s Summary) error {
	bar := strings.Repeat("=", 50)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nRESUMEN DE PRUEBAS\n%s\n", bar, bar)
	fmt.Fprintf(&b, "Ejecución: %s\n", s.RunID)
	fmt.Fprintf(&b, "Fecha: %s\n", s.Start.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duración: %.2f segundos\n", s.Duration)
	fmt.Fprintf(&b, "Pruebas ejecutadas: %d\n", s.Total)
	fmt.Fprintf(&b, "Pruebas exitosas: %d\n", s.Passed)
	fmt.Fprintf(&b, "Resultado global: %s\n%s\n", verdict(s.OK), bar)
	for _, r := range s.Results {
		fmt.Fprintf(&b, "\n%s: %.1f%% de éxito\n", r.Name, r.SuccessRate)
		fmt.Fprintf(&b, "  %s\n", r.Description)
		fmt.Fprintf(&b, "  Pasos: %d/%d\n", r.PassedSteps, r.TotalSteps)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// SaveJSON writes s as indented JSON to path.
func SaveJSON(path string, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
