package world

import (
	"time"

	"circuitcraft.ai/internal/sim/tuning"
)

type Config struct {
	TickInterval     time.Duration
	FrameRateHz      int
	MaxWorkers       int
	MaxHandoffRounds int
}

func DefaultConfig() Config {
	return ConfigFromTuning(tuning.Defaults())
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		TickInterval:     time.Duration(t.TickIntervalMS) * time.Millisecond,
		FrameRateHz:      t.FrameRateHz,
		MaxWorkers:       t.MaxWorkers,
		MaxHandoffRounds: t.MaxHandoffRounds,
	}
}

func (c Config) normalized() Config {
	d := tuning.Defaults()
	if c.TickInterval <= 0 {
		c.TickInterval = time.Duration(d.TickIntervalMS) * time.Millisecond
	}
	if c.FrameRateHz <= 0 {
		c.FrameRateHz = d.FrameRateHz
	}
	if c.MaxWorkers < 0 {
		c.MaxWorkers = 0
	}
	if c.MaxHandoffRounds <= 0 {
		c.MaxHandoffRounds = d.MaxHandoffRounds
	}
	return c
}
