package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"circuitcraft.ai/internal/sim/area"
	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
)

var (
	ErrAreaExists    = errors.New("area already loaded")
	ErrAreaNotLoaded = errors.New("area not loaded")
)

// Sink receives the summary of every executed tick. Implemented in internal/persistence/*
// and internal/transport/observer.
type Sink interface {
	WriteTick(res TickResult) error
}

// Hook runs on the world loop goroutine around every tick.
type Hook interface {
	BeforeTick(tick uint64)
	AfterTick(res TickResult)
}

type mutation struct {
	fn   func(*World) error
	done chan error
}

// World owns the loaded areas and drives the circuit tick.
//
// Areas, links and buffers are touched only from the goroutine that calls Step (the Run
// loop, or the test). Other goroutines go through Do.
type World struct {
	cfg   Config
	log   logrus.FieldLogger
	sched *Scheduler

	areas map[grid.AreaKey]*area.Area
	keys  []grid.AreaKey

	hooks []Hook
	sinks []Sink

	panics PanicReporter

	mutations chan mutation
	stop      chan struct{}
	stopped   atomic.Bool

	tick        atomic.Uint64
	areaCount   atomic.Int64
	activeGates atomic.Int64
	lastTickNS  atomic.Int64
	tickErrors  atomic.Uint64
}

type Option func(*World)

func WithLogger(l logrus.FieldLogger) Option {
	return func(w *World) { w.log = l }
}

func WithPanicReporter(r PanicReporter) Option {
	return func(w *World) { w.panics = r }
}

func New(cfg Config, opts ...Option) *World {
	cfg = cfg.normalized()
	w := &World{
		cfg:       cfg,
		sched:     NewScheduler(cfg.TickInterval),
		areas:     map[grid.AreaKey]*area.Area{},
		mutations: make(chan mutation, 64),
		stop:      make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		w.log = l
	}
	w.log = w.log.WithField("component", "world")
	if w.panics == nil {
		w.panics = SentryReporter{}
	}
	return w
}

func (w *World) Config() Config { return w.cfg }

func (w *World) AddHook(h Hook) { w.hooks = append(w.hooks, h) }

func (w *World) AddSink(s Sink) { w.sinks = append(w.sinks, s) }

// LoadArea creates an all-air area at key and links it with its loaded horizontal
// neighbours in both directions.
func (w *World) LoadArea(key grid.AreaKey) (*area.Area, error) {
	if _, ok := w.areas[key]; ok {
		return nil, fmt.Errorf("load %v: %w", key, ErrAreaExists)
	}
	a := area.New(key)
	for _, d := range blocks.AllDirections {
		off := d.Offset()
		if n := w.areas[key.Add(off.X, 0, off.Z)]; n != nil {
			a.Link(d, n)
		}
	}
	w.areas[key] = a
	w.rebuildKeys()
	return a, nil
}

// UnloadArea drops the area at key; neighbours lose their link to it.
func (w *World) UnloadArea(key grid.AreaKey) error {
	a, ok := w.areas[key]
	if !ok {
		return fmt.Errorf("unload %v: %w", key, ErrAreaNotLoaded)
	}
	a.UnlinkAll()
	delete(w.areas, key)
	w.rebuildKeys()
	return nil
}

func (w *World) rebuildKeys() {
	w.keys = w.keys[:0]
	for k := range w.areas {
		w.keys = append(w.keys, k)
	}
	sort.Slice(w.keys, func(i, j int) bool { return w.keys[i].Less(w.keys[j]) })
	w.areaCount.Store(int64(len(w.keys)))
}

func (w *World) Area(key grid.AreaKey) (*area.Area, bool) {
	a, ok := w.areas[key]
	return a, ok
}

// Keys lists the loaded area keys in X, Z, Y order.
func (w *World) Keys() []grid.AreaKey {
	out := make([]grid.AreaKey, len(w.keys))
	copy(out, w.keys)
	return out
}

// Do runs fn on the world loop between ticks and waits for its result.
func (w *World) Do(ctx context.Context, fn func(*World) error) error {
	m := mutation{fn: fn, done: make(chan error, 1)}
	select {
	case w.mutations <- m:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stop:
		return errors.New("world stopped")
	}
	select {
	case err := <-m.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives ticks from a frame ticker until ctx is done or Stop is called.
func (w *World) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(w.cfg.FrameRateHz))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case m := <-w.mutations:
			m.done <- m.fn(w)
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			if !w.sched.Advance(elapsed) {
				continue
			}
			if res, err := w.Step(); err != nil {
				w.log.WithError(err).WithField("tick", res.Tick).Error("tick failed")
			}
		}
	}
}

func (w *World) Stop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.stop)
	}
}

// Stats is a point-in-time view safe to read from any goroutine.
type Stats struct {
	Tick        uint64
	Areas       int
	ActiveGates int
	LastTick    time.Duration
	TickErrors  uint64
}

func (w *World) Stats() Stats {
	return Stats{
		Tick:        w.tick.Load(),
		Areas:       int(w.areaCount.Load()),
		ActiveGates: int(w.activeGates.Load()),
		LastTick:    time.Duration(w.lastTickNS.Load()),
		TickErrors:  w.tickErrors.Load(),
	}
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }
