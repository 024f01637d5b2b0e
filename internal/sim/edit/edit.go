// Package edit is the block placement and removal layer in front of the circuit engine.
// Every edit keeps the area buffers, column heightmaps, update worklist and registries in
// step with each other.
package edit

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"circuitcraft.ai/internal/sim/area"
	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
	"circuitcraft.ai/internal/sim/registry"
	"circuitcraft.ai/internal/sim/world"
)

var (
	ErrOutOfBounds = errors.New("position is not in a loaded area")
	ErrNotSwitch   = errors.New("block is not a switch")
	ErrBadType     = errors.New("unknown block type")
)

// Areas is the area lookup the editor needs; *world.World implements it.
type Areas interface {
	Area(key grid.AreaKey) (*area.Area, bool)
	Keys() []grid.AreaKey
}

// Block is the content of one cell as seen from outside the engine.
type Block struct {
	Pos    grid.Vec3i
	Type   blocks.Type
	Facing blocks.Direction
	On     bool
}

// Record describes one applied edit. Tick is the tick the edit first takes part in.
type Record struct {
	Tick   uint64 `json:"tick"`
	Action string `json:"action"` // PLACE, BREAK or TOGGLE
	Pos    [3]int `json:"pos"`
	From   string `json:"from"`
	To     string `json:"to"`
	Facing string `json:"facing,omitempty"`
}

// AuditSink receives every applied edit. Implemented in internal/persistence/log.
type AuditSink interface {
	WriteEdit(r Record) error
}

type auditFanout []AuditSink

func (f auditFanout) WriteEdit(r Record) error {
	var errs []error
	for _, s := range f {
		if err := s.WriteEdit(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Audits combines sinks into one; nil entries are skipped.
func Audits(sinks ...AuditSink) AuditSink {
	var out auditFanout
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Editor must be used from the goroutine that steps the world, between ticks.
type Editor struct {
	areas Areas
	reg   *registry.Registry
	log   logrus.FieldLogger

	audit    AuditSink
	lastTick uint64
}

func New(areas Areas, reg *registry.Registry, log logrus.FieldLogger) *Editor {
	if reg == nil {
		reg = registry.New()
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	return &Editor{areas: areas, reg: reg, log: log.WithField("component", "edit")}
}

func (e *Editor) Registry() *registry.Registry { return e.reg }

func (e *Editor) SetAudit(s AuditSink) { e.audit = s }

func (e *Editor) record(action string, pos grid.Vec3i, from, to blocks.Type, facing string) {
	if e.audit == nil {
		return
	}
	r := Record{Tick: e.lastTick + 1, Action: action, Pos: pos.ToArray(), From: from.String(), To: to.String(), Facing: facing}
	if err := e.audit.WriteEdit(r); err != nil {
		e.log.WithError(err).Warn("audit write failed")
	}
}

func (e *Editor) locate(pos grid.Vec3i) (*area.Area, grid.Vec3i, error) {
	key, l := grid.SplitGlobal(pos)
	a, ok := e.areas.Area(key)
	if !ok {
		return nil, grid.Vec3i{}, fmt.Errorf("%v: %w", pos, ErrOutOfBounds)
	}
	return a, l, nil
}

// Place writes t with the given facing at pos. The logic bit starts cleared, except that a
// switch placed on starts on.
func (e *Editor) Place(pos grid.Vec3i, t blocks.Type, facing blocks.Direction) error {
	if !t.Valid() {
		return fmt.Errorf("place %v: %w: %d", pos, ErrBadType, t)
	}
	a, l, err := e.locate(pos)
	if err != nil {
		return fmt.Errorf("place: %w", err)
	}
	from := a.Type(l)
	a.SetType(l, t)
	a.SetFacing(l, facing)
	a.SetState(l, t == blocks.SwitchOn)
	a.NoteColumn(l)
	a.MarkUpdated(l)
	e.reg.Track(registry.Entry{Pos: pos, Type: t, Facing: facing})
	var f string
	if t.IsDirectional() {
		f = facing.String()
	}
	e.record("PLACE", pos, from, t, f)
	return nil
}

// Break replaces pos with air. A powered block is queued for depowering so its neighbours
// are reconsidered on the next tick.
func (e *Editor) Break(pos grid.Vec3i) error {
	a, l, err := e.locate(pos)
	if err != nil {
		return fmt.Errorf("break: %w", err)
	}
	from := a.Type(l)
	if from == blocks.Air {
		return nil
	}
	if a.State(l) {
		e.reg.QueueDepower(pos)
	}
	a.SetType(l, blocks.Air)
	a.SetFacing(l, 0)
	a.SetState(l, false)
	a.NoteColumn(l)
	a.MarkUpdated(l)
	e.reg.Forget(pos)
	e.record("BREAK", pos, from, blocks.Air, "")
	return nil
}

// Toggle flips the switch at pos and returns its new on-ness.
func (e *Editor) Toggle(pos grid.Vec3i) (bool, error) {
	a, l, err := e.locate(pos)
	if err != nil {
		return false, fmt.Errorf("toggle: %w", err)
	}
	t := a.Type(l)
	if t != blocks.SwitchOn && t != blocks.SwitchOff {
		return false, fmt.Errorf("toggle %v (%s): %w", pos, t, ErrNotSwitch)
	}
	on := t == blocks.SwitchOff
	next := t.Variant(on)
	a.SetType(l, next)
	a.SetState(l, on)
	a.MarkUpdated(l)
	e.reg.Track(registry.Entry{Pos: pos, Type: next, Facing: a.Facing(l)})
	e.record("TOGGLE", pos, t, next, "")
	return on, nil
}

func (e *Editor) Get(pos grid.Vec3i) (Block, error) {
	a, l, err := e.locate(pos)
	if err != nil {
		return Block{}, err
	}
	return Block{Pos: pos, Type: a.Type(l), Facing: a.Facing(l), On: a.State(l)}, nil
}

// DrainDepower moves every queued depower position into the update worklist of the area
// that owns it. Positions whose area has been unloaded are dropped.
func (e *Editor) DrainDepower() int {
	n := 0
	for _, pos := range e.reg.DrainDepower() {
		a, l, err := e.locate(pos)
		if err != nil {
			e.log.WithField("pos", pos.String()).Debug("depower target unloaded")
			continue
		}
		a.MarkUpdated(l)
		n++
	}
	return n
}

// SyncActiveGates mirrors the active gate worklists of all loaded areas into the registry.
func (e *Editor) SyncActiveGates() {
	var on []grid.Vec3i
	for _, k := range e.areas.Keys() {
		a, ok := e.areas.Area(k)
		if !ok {
			continue
		}
		for _, l := range a.ActiveGates.Items() {
			on = append(on, a.GlobalPosition(l))
		}
	}
	e.reg.ReplaceActive(on)
}

func (e *Editor) BeforeTick(tick uint64) { e.DrainDepower() }

func (e *Editor) AfterTick(res world.TickResult) {
	e.lastTick = res.Tick
	e.SyncActiveGates()
}

var _ world.Hook = (*Editor)(nil)
