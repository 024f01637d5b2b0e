package worldtest

import (
	"testing"
	"time"

	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/edit"
	"circuitcraft.ai/internal/sim/grid"
	"circuitcraft.ai/internal/sim/world"
)

// Harness is a small black-box helper for driving a multi-area world through exported
// APIs:
// - Place/Break/Toggle go through the edit layer by global position
// - Step/StepFor run ticks synchronously and fail the test on a tick error
// - On/Type read back cells by global position
type Harness struct {
	T  *testing.T
	W  *world.World
	Ed *edit.Editor

	Results []world.TickResult
}

// Config is a fast test configuration with the given worker count.
func Config(workers int) world.Config {
	return world.Config{TickInterval: time.Millisecond, FrameRateHz: 1000, MaxWorkers: workers, MaxHandoffRounds: 64}
}

func NewHarness(t *testing.T, cfg world.Config, areas ...grid.AreaKey) *Harness {
	t.Helper()
	w := world.New(cfg)
	ed := edit.New(w, nil, nil)
	w.AddHook(ed)
	h := &Harness{T: t, W: w, Ed: ed}
	for _, k := range areas {
		h.Load(k)
	}
	return h
}

// Rect loads every area with X in [x0,x1] and Z in [z0,z1] at Y 0.
func Rect(x0, z0, x1, z1 int) []grid.AreaKey {
	var out []grid.AreaKey
	for x := x0; x <= x1; x++ {
		for z := z0; z <= z1; z++ {
			out = append(out, grid.AreaKey{X: x, Z: z})
		}
	}
	return out
}

func P(x, y, z int) grid.Vec3i { return grid.Vec3i{X: x, Y: y, Z: z} }

func (h *Harness) Load(k grid.AreaKey) {
	h.T.Helper()
	if _, err := h.W.LoadArea(k); err != nil {
		h.T.Fatalf("load %v: %v", k, err)
	}
}

func (h *Harness) Unload(k grid.AreaKey) {
	h.T.Helper()
	if err := h.W.UnloadArea(k); err != nil {
		h.T.Fatalf("unload %v: %v", k, err)
	}
}

func (h *Harness) Place(pos grid.Vec3i, t blocks.Type, facing blocks.Direction) {
	h.T.Helper()
	if err := h.Ed.Place(pos, t, facing); err != nil {
		h.T.Fatalf("place %s at %v: %v", t, pos, err)
	}
}

// Line places t on every cell from a to b inclusive. a and b must share two coordinates.
func (h *Harness) Line(a, b grid.Vec3i, t blocks.Type) {
	h.T.Helper()
	step := func(from, to int) int {
		switch {
		case to > from:
			return 1
		case to < from:
			return -1
		}
		return 0
	}
	d := grid.Vec3i{X: step(a.X, b.X), Y: step(a.Y, b.Y), Z: step(a.Z, b.Z)}
	for p := a; ; p = p.Add(d) {
		h.Place(p, t, blocks.East)
		if p == b {
			return
		}
	}
}

func (h *Harness) Break(pos grid.Vec3i) {
	h.T.Helper()
	if err := h.Ed.Break(pos); err != nil {
		h.T.Fatalf("break %v: %v", pos, err)
	}
}

func (h *Harness) Toggle(pos grid.Vec3i) bool {
	h.T.Helper()
	on, err := h.Ed.Toggle(pos)
	if err != nil {
		h.T.Fatalf("toggle %v: %v", pos, err)
	}
	return on
}

func (h *Harness) Step() world.TickResult {
	h.T.Helper()
	res, err := h.W.Step()
	if err != nil {
		h.T.Fatalf("tick %d: %v", res.Tick, err)
	}
	h.Results = append(h.Results, res)
	return res
}

func (h *Harness) StepFor(n int) world.TickResult {
	h.T.Helper()
	var res world.TickResult
	for i := 0; i < n; i++ {
		res = h.Step()
	}
	return res
}

func (h *Harness) block(pos grid.Vec3i) edit.Block {
	h.T.Helper()
	b, err := h.Ed.Get(pos)
	if err != nil {
		h.T.Fatalf("get %v: %v", pos, err)
	}
	return b
}

func (h *Harness) On(pos grid.Vec3i) bool { return h.block(pos).On }

func (h *Harness) Type(pos grid.Vec3i) blocks.Type { return h.block(pos).Type }

// Digests returns the buffer digest of every loaded area in key order.
func (h *Harness) Digests() []uint64 {
	var out []uint64
	for _, k := range h.W.Keys() {
		a, _ := h.W.Area(k)
		out = append(out, a.Digest())
	}
	return out
}
