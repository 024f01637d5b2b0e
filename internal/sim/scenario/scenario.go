// Package scenario loads circuit scenario files, applies them to a world and checks their
// expectations tick by tick.
package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/edit"
	"circuitcraft.ai/internal/sim/grid"
	"circuitcraft.ai/internal/sim/world"
)

//go:embed scenario.schema.json
var schemaJSON []byte

const schemaURL = "scenario.schema.json"

var ErrInvalid = errors.New("invalid scenario")

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

type Block struct {
	Pos    [3]int `json:"pos"`
	Type   string `json:"type"`
	Facing string `json:"facing,omitempty"`
}

type Event struct {
	Tick int    `json:"tick"`
	Pos  [3]int `json:"pos"`
}

type Expect struct {
	Tick int    `json:"tick"`
	Pos  [3]int `json:"pos"`
	On   bool   `json:"on"`
}

type Scenario struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Ticks       int      `json:"ticks"`
	Areas       [][3]int `json:"areas"`
	Blocks      []Block  `json:"blocks,omitempty"`
	Toggles     []Event  `json:"toggles,omitempty"`
	Breaks      []Event  `json:"breaks,omitempty"`
	Expect      []Expect `json:"expect,omitempty"`
}

// Parse validates raw against the scenario schema and decodes it. Every failure wraps
// ErrInvalid.
func Parse(raw []byte) (*Scenario, error) {
	sch, err := compiled()
	if err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var s Scenario
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return &s, nil
}

func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// check covers what the schema cannot express: events past the last tick and duplicate
// areas.
func (s *Scenario) check() error {
	seen := map[[3]int]bool{}
	for _, a := range s.Areas {
		if seen[a] {
			return fmt.Errorf("area %v listed twice", a)
		}
		seen[a] = true
	}
	for _, e := range s.Toggles {
		if e.Tick > s.Ticks {
			return fmt.Errorf("toggle at tick %d is past the last tick %d", e.Tick, s.Ticks)
		}
	}
	for _, e := range s.Breaks {
		if e.Tick > s.Ticks {
			return fmt.Errorf("break at tick %d is past the last tick %d", e.Tick, s.Ticks)
		}
	}
	for _, e := range s.Expect {
		if e.Tick > s.Ticks {
			return fmt.Errorf("expectation at tick %d is past the last tick %d", e.Tick, s.Ticks)
		}
	}
	return nil
}

// Build loads the scenario areas into w and places its blocks through ed.
func (s *Scenario) Build(w *world.World, ed *edit.Editor) error {
	for _, a := range s.Areas {
		if _, err := w.LoadArea(grid.AreaKey{X: a[0], Y: a[1], Z: a[2]}); err != nil {
			return err
		}
	}
	for i, b := range s.Blocks {
		t, ok := blocks.ParseType(b.Type)
		if !ok {
			return fmt.Errorf("block %d: %w: %q", i, edit.ErrBadType, b.Type)
		}
		d, ok := blocks.ParseDirection(b.Facing)
		if !ok {
			return fmt.Errorf("block %d: bad facing %q", i, b.Facing)
		}
		if err := ed.Place(grid.FromArray(b.Pos), t, d); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	return nil
}

// NewWorld builds a fresh world with an editor hooked into it and the scenario applied.
func (s *Scenario) NewWorld(cfg world.Config, log logrus.FieldLogger) (*world.World, *edit.Editor, error) {
	w := world.New(cfg, world.WithLogger(log))
	ed := edit.New(w, nil, log)
	w.AddHook(ed)
	if err := s.Build(w, ed); err != nil {
		return nil, nil, fmt.Errorf("build %s: %w", s.Name, err)
	}
	return w, ed, nil
}

type Failure struct {
	Tick int
	Pos  grid.Vec3i
	Want bool
	Got  bool
}

func (f Failure) String() string {
	return fmt.Sprintf("tick %d at %v: want on=%v, got on=%v", f.Tick, f.Pos, f.Want, f.Got)
}

type Report struct {
	Name            string
	Ticks           int
	Flips           int
	Handoffs        int
	DroppedHandoffs int
	PeakActiveGates int
	Checked         int
	Failures        []Failure
	Duration        time.Duration
}

func (r Report) OK() bool { return len(r.Failures) == 0 }

// Run steps w for the scenario's ticks. Toggles and breaks scheduled for tick n are
// applied before tick n runs; expectations for tick n are checked after it. Ticks are
// counted from the first Run step. observe may be nil.
func (s *Scenario) Run(w *world.World, ed *edit.Editor, observe func(world.TickResult)) (Report, error) {
	rep := Report{Name: s.Name}
	start := time.Now()

	byTick := func(evs []Event) map[int][]Event {
		m := map[int][]Event{}
		for _, e := range evs {
			m[e.Tick] = append(m[e.Tick], e)
		}
		return m
	}
	toggles := byTick(s.Toggles)
	breaks := byTick(s.Breaks)
	expects := map[int][]Expect{}
	for _, e := range s.Expect {
		expects[e.Tick] = append(expects[e.Tick], e)
	}

	for tick := 1; tick <= s.Ticks; tick++ {
		for _, e := range toggles[tick] {
			if _, err := ed.Toggle(grid.FromArray(e.Pos)); err != nil {
				return rep, fmt.Errorf("tick %d: %w", tick, err)
			}
		}
		for _, e := range breaks[tick] {
			if err := ed.Break(grid.FromArray(e.Pos)); err != nil {
				return rep, fmt.Errorf("tick %d: %w", tick, err)
			}
		}

		res, err := w.Step()
		rep.Ticks = tick
		rep.Flips += res.Flips
		rep.Handoffs += res.Handoffs
		rep.DroppedHandoffs += res.DroppedHandoffs
		if res.ActiveGates > rep.PeakActiveGates {
			rep.PeakActiveGates = res.ActiveGates
		}
		if observe != nil {
			observe(res)
		}
		if err != nil {
			return rep, fmt.Errorf("tick %d: %w", tick, err)
		}

		for _, e := range expects[tick] {
			pos := grid.FromArray(e.Pos)
			b, err := ed.Get(pos)
			if err != nil {
				return rep, fmt.Errorf("expect at tick %d: %w", tick, err)
			}
			rep.Checked++
			if b.On != e.On {
				rep.Failures = append(rep.Failures, Failure{Tick: tick, Pos: pos, Want: e.On, Got: b.On})
			}
		}
	}
	rep.Duration = time.Since(start)
	return rep, nil
}
