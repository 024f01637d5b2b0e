package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickIntervalMS   int `yaml:"tick_interval_ms"`
	FrameRateHz      int `yaml:"frame_rate_hz"`
	MaxWorkers       int `yaml:"max_workers"`
	MaxHandoffRounds int `yaml:"max_handoff_rounds"`

	Observer Observer `yaml:"observer"`
}

type Observer struct {
	MaxClients int `yaml:"max_clients"`
	Queue      int `yaml:"queue"`
}

// Defaults matches configs/tuning.yaml. The one-second tick is the classic circuit rate.
func Defaults() Tuning {
	return Tuning{
		TickIntervalMS:   1000,
		FrameRateHz:      60,
		MaxWorkers:       0,
		MaxHandoffRounds: 64,
		Observer: Observer{
			MaxClients: 32,
			Queue:      64,
		},
	}
}

// Load reads path on top of Defaults, so keys missing from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval_ms must be > 0, got %d", t.TickIntervalMS))
	}
	if t.FrameRateHz <= 0 {
		errs = append(errs, fmt.Errorf("frame_rate_hz must be > 0, got %d", t.FrameRateHz))
	}
	if t.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("max_workers must be >= 0, got %d", t.MaxWorkers))
	}
	if t.MaxHandoffRounds <= 0 {
		errs = append(errs, fmt.Errorf("max_handoff_rounds must be > 0, got %d", t.MaxHandoffRounds))
	}
	if t.Observer.MaxClients < 0 || t.Observer.Queue <= 0 {
		errs = append(errs, fmt.Errorf("observer: max_clients must be >= 0 and queue > 0"))
	}
	return errors.Join(errs...)
}
