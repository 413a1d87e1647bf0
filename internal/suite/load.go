package suite

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownSequence is returned for a preset or sequence type that does not
// exist.
var ErrUnknownSequence = errors.New("unknown sequence")

// Preset names accepted by Preset.
const (
	PresetOnOff       = "encendido"
	PresetTemperature = "temperatura"
	PresetStress      = "estres"
	PresetAll         = "todas"
)

// Preset returns the stock sequences for name.
func Preset(name string) ([]Sequence, error) {
	onoff := OnOffCycles{Modules: []int{1, 2, 3}, Cycles: 1, WaitMS: 1000}
	temp := TemperatureCheck{Min: 10, Max: 40, Readings: 1, IntervalMS: 2000}
	stress := Stress{Duration: 30 * time.Second, IntervalMS: 500, Modules: 3}

	switch strings.ToLower(name) {
	case PresetOnOff:
		return []Sequence{onoff}, nil
	case PresetTemperature:
		return []Sequence{temp}, nil
	case PresetStress:
		return []Sequence{stress}, nil
	case PresetAll, "":
		return []Sequence{onoff, temp, stress}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSequence, name)
}

// File is the YAML layout of a suite file.
type File struct {
	Sequences []SequenceSpec `yaml:"sequences"`
}

// SequenceSpec is one entry of a suite file.  Type selects which of the
// other fields apply.
type SequenceSpec struct {
	Type string `yaml:"type"`

	// encendido
	Modules []int `yaml:"modules"`
	Cycles  int   `yaml:"cycles"`
	WaitMS  int   `yaml:"wait_ms"`

	// temperatura
	Min        *float64 `yaml:"min"`
	Max        *float64 `yaml:"max"`
	Readings   int      `yaml:"readings"`
	IntervalMS int      `yaml:"interval_ms"`

	// estres
	Duration    time.Duration `yaml:"duration"`
	ModuleCount int           `yaml:"module_count"`
}

// Sequence builds the sequence described by s, filling unset fields with
// the preset defaults.
func (s SequenceSpec) Sequence() (Sequence, error) {
	switch strings.ToLower(s.Type) {
	case PresetOnOff, "onoff":
		seq := OnOffCycles{Modules: s.Modules, Cycles: s.Cycles, WaitMS: s.WaitMS}
		if len(seq.Modules) == 0 {
			seq.Modules = []int{1, 2, 3}
		}
		if seq.Cycles <= 0 {
			seq.Cycles = 1
		}
		if seq.WaitMS <= 0 {
			seq.WaitMS = 1000
		}
		return seq, nil
	case PresetTemperature, "temperature":
		seq := TemperatureCheck{Min: 10, Max: 40, Readings: s.Readings, IntervalMS: s.IntervalMS}
		if s.Min != nil {
			seq.Min = *s.Min
		}
		if s.Max != nil {
			seq.Max = *s.Max
		}
		if seq.Min > seq.Max {
			return nil, fmt.Errorf("temperature range %.1f > %.1f", seq.Min, seq.Max)
		}
		if seq.Readings <= 0 {
			seq.Readings = 5
		}
		if seq.IntervalMS <= 0 {
			seq.IntervalMS = 2000
		}
		return seq, nil
	case PresetStress, "stress":
		seq := Stress{Duration: s.Duration, IntervalMS: s.IntervalMS, Modules: s.ModuleCount}
		if seq.Duration <= 0 {
			seq.Duration = 60 * time.Second
		}
		if seq.IntervalMS <= 0 {
			seq.IntervalMS = 500
		}
		return seq, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSequence, s.Type)
}

// Parse decodes a suite from YAML.
func Parse(data []byte) ([]Sequence, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse suite: %w", err)
	}
	if len(f.Sequences) == 0 {
		return nil, errors.New("suite has no sequences")
	}
	out := make([]Sequence, 0, len(f.Sequences))
	for i, s := range f.Sequences {
		seq, err := s.Sequence()
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i+1, err)
		}
		out = append(out, seq)
	}
	return out, nil
}

// LoadFile reads and decodes a suite file.
func LoadFile(path string) ([]Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}
	seqs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seqs, nil
}
