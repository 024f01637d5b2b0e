package world

import (
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"circuitcraft.ai/internal/sim/area"
	"circuitcraft.ai/internal/sim/circuit"
	"circuitcraft.ai/internal/sim/grid"
)

// colours is the number of scheduling classes. Two areas of the same class are at least
// three areas apart, so their windows never overlap.
const colours = 5

// TickResult summarizes one executed tick.
type TickResult struct {
	Tick            uint64
	Areas           int
	DirtyAreas      []grid.AreaKey
	Flips           int
	Visits          int
	Handoffs        int
	DroppedHandoffs int
	Truncated       int
	GatesOn         int
	GatesOff        int
	ActiveGates     int
	// Digest folds every area digest in key order; equal runs produce equal digests.
	Digest          uint64
	Duration        time.Duration
	Err             error
}

func colourOf(k grid.AreaKey) int { return grid.Mod(k.X+2*k.Z, colours) }

// Step runs one tick synchronously: classification, the reactive pass, the forced pass and
// gate evaluation, each behind a barrier.
func (w *World) Step() (TickResult, error) {
	start := time.Now()
	tick := w.tick.Load() + 1
	for _, h := range w.hooks {
		h.BeforeTick(tick)
	}

	res := TickResult{Tick: tick, Areas: len(w.keys)}
	res.Err = w.runTick(&res)
	res.Duration = time.Since(start)

	w.tick.Store(tick)
	w.lastTickNS.Store(int64(res.Duration))
	w.activeGates.Store(int64(res.ActiveGates))
	if res.Err != nil {
		w.tickErrors.Add(1)
	}

	for _, h := range w.hooks {
		h.AfterTick(res)
	}
	for _, s := range w.sinks {
		if err := s.WriteTick(res); err != nil {
			w.log.WithError(err).WithField("tick", tick).Warn("tick sink failed")
		}
	}
	w.log.WithFields(logrus.Fields{
		"tick":         tick,
		"flips":        res.Flips,
		"dirty":        len(res.DirtyAreas),
		"active_gates": res.ActiveGates,
	}).Debug("tick")
	return res, res.Err
}

func (w *World) runTick(res *TickResult) error {
	all := w.sortedAreas()

	// Classification touches only the area itself.
	reactive := make([][]grid.Vec3i, len(all))
	if err := w.parallel(all, func(i int, a *area.Area) {
		reactive[i] = circuit.Classify(a)
	}); err != nil {
		return err
	}

	for i, a := range all {
		for _, l := range reactive[i] {
			a.Park(area.Pending{At: l, State: false})
		}
	}
	if err := w.propagate(all, res); err != nil {
		return err
	}

	for _, a := range all {
		for _, l := range circuit.ForcedSeeds(a) {
			a.Park(area.Pending{At: l, State: true})
		}
	}
	if err := w.propagate(all, res); err != nil {
		return err
	}

	outs := make([][]circuit.GateOutput, len(all))
	if err := w.parallel(all, func(i int, a *area.Area) {
		outs[i] = circuit.EvaluateGates(a)
	}); err != nil {
		return err
	}
	on := make([]int, len(all))
	off := make([]int, len(all))
	if err := w.parallel(all, func(i int, a *area.Area) {
		on[i], off[i] = circuit.ApplyGates(a, outs[i])
	}); err != nil {
		return err
	}

	dirty := make([]bool, len(all))
	if err := w.parallel(all, func(i int, a *area.Area) {
		dirty[i] = a.CheckDirty()
	}); err != nil {
		return err
	}
	buf := make([]byte, 0, len(all)*32)
	for i, a := range all {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(a.Key.X)))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(a.Key.Y)))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(a.Key.Z)))
		buf = binary.LittleEndian.AppendUint64(buf, a.LastDigest())
		res.GatesOn += on[i]
		res.GatesOff += off[i]
		res.ActiveGates += a.ActiveGates.Len()
		if dirty[i] {
			res.DirtyAreas = append(res.DirtyAreas, a.Key)
		}
	}
	res.Digest = xxh3.Hash(buf)
	return nil
}

// propagate runs colour-class rounds until no area has parked work left. Each unit owns
// the window of its area for the duration of its colour; handoffs produced by the units of
// one colour are parked in key order after the barrier.
func (w *World) propagate(all []*area.Area, res *TickResult) error {
	var classes [colours][]*area.Area
	for _, a := range all {
		c := colourOf(a.Key)
		classes[c] = append(classes[c], a)
	}

	for round := 0; ; round++ {
		if round >= w.cfg.MaxHandoffRounds {
			for _, a := range all {
				res.DroppedHandoffs += len(a.TakePending())
			}
			if res.DroppedHandoffs > 0 {
				w.log.WithField("dropped", res.DroppedHandoffs).Warn("handoff rounds exhausted")
			}
			return nil
		}

		worked := false
		for _, class := range classes {
			var ready []*area.Area
			for _, a := range class {
				if a.PendingLen() > 0 {
					ready = append(ready, a)
				}
			}
			if len(ready) == 0 {
				continue
			}
			worked = true

			floods := make([]*circuit.Flood, len(ready))
			err := w.parallel(ready, func(i int, a *area.Area) {
				f := circuit.NewFlood(a)
				f.Resume(a.TakePending())
				f.Drain()
				floods[i] = f
			})
			for _, f := range floods {
				if f == nil {
					continue
				}
				res.Flips += f.Stats.Flips
				res.Visits += f.Stats.Visits
				res.Handoffs += f.Stats.Parked
				res.Truncated += f.Stats.Truncated
				f.FlushHandoffs()
			}
			if err != nil {
				return err
			}
		}
		if !worked {
			return nil
		}
	}
}

// parallel runs fn once per area with at most MaxWorkers in flight and waits for all of
// them. The first failure is returned.
func (w *World) parallel(as []*area.Area, fn func(i int, a *area.Area)) error {
	var g errgroup.Group
	if w.cfg.MaxWorkers > 0 {
		g.SetLimit(w.cfg.MaxWorkers)
	}
	for i, a := range as {
		i, a := i, a
		g.Go(func() error {
			return w.unit(a.Key, func() { fn(i, a) })
		})
	}
	return g.Wait()
}

func (w *World) sortedAreas() []*area.Area {
	out := make([]*area.Area, len(w.keys))
	for i, k := range w.keys {
		out[i] = w.areas[k]
	}
	return out
}
