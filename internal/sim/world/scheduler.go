package world

import "time"

// Scheduler is the fixed-rate accumulator that turns frame time into ticks.
type Scheduler struct {
	interval time.Duration
	acc      time.Duration
}

func NewScheduler(interval time.Duration) *Scheduler {
	return &Scheduler{interval: interval}
}

// Advance adds elapsed to the accumulator. It reports true, and resets the accumulator to
// zero, once the tick interval is reached; the caller then runs exactly one tick.
func (s *Scheduler) Advance(elapsed time.Duration) bool {
	if elapsed > 0 {
		s.acc += elapsed
	}
	if s.acc < s.interval {
		return false
	}
	s.acc = 0
	return true
}

func (s *Scheduler) Pending() time.Duration { return s.acc }

func (s *Scheduler) Interval() time.Duration { return s.interval }
