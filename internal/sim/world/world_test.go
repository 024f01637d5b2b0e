package world

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
)

func g(x, y, z int) grid.Vec3i { return grid.Vec3i{X: x, Y: y, Z: z} }

func newTestWorld(t *testing.T, workers int, keys ...grid.AreaKey) *World {
	t.Helper()
	w := New(Config{TickInterval: time.Millisecond, FrameRateHz: 1000, MaxWorkers: workers, MaxHandoffRounds: 64})
	for _, k := range keys {
		_, err := w.LoadArea(k)
		require.NoError(t, err)
	}
	return w
}

func set(t *testing.T, w *World, p grid.Vec3i, ty blocks.Type, facing blocks.Direction) {
	t.Helper()
	k, l := grid.SplitGlobal(p)
	a, ok := w.Area(k)
	require.True(t, ok, "area %v not loaded", k)
	a.SetType(l, ty)
	a.SetFacing(l, facing)
	a.SetState(l, ty == blocks.SwitchOn)
	a.NoteColumn(l)
	a.MarkUpdated(l)
}

func stateAt(t *testing.T, w *World, p grid.Vec3i) bool {
	t.Helper()
	k, l := grid.SplitGlobal(p)
	a, ok := w.Area(k)
	require.True(t, ok)
	return a.State(l)
}

func typeAt(t *testing.T, w *World, p grid.Vec3i) blocks.Type {
	t.Helper()
	k, l := grid.SplitGlobal(p)
	a, ok := w.Area(k)
	require.True(t, ok)
	return a.Type(l)
}

func row(n int) []grid.AreaKey {
	out := make([]grid.AreaKey, n)
	for i := range out {
		out[i] = grid.AreaKey{X: i}
	}
	return out
}

func TestSchedulerAdvance(t *testing.T) {
	s := NewScheduler(time.Second)
	assert.False(t, s.Advance(400*time.Millisecond))
	assert.False(t, s.Advance(500*time.Millisecond))
	assert.True(t, s.Advance(100*time.Millisecond))
	assert.Zero(t, s.Pending())

	// An overshoot still yields one tick and the remainder is discarded.
	assert.True(t, s.Advance(3*time.Second))
	assert.Zero(t, s.Pending())
	assert.False(t, s.Advance(-time.Second))
}

func TestLoadAreaLinksNeighboursSymmetrically(t *testing.T) {
	w := newTestWorld(t, 0, grid.AreaKey{}, grid.AreaKey{X: 1}, grid.AreaKey{Z: -1}, grid.AreaKey{Y: 1})
	origin, _ := w.Area(grid.AreaKey{})
	east, _ := w.Area(grid.AreaKey{X: 1})
	south, _ := w.Area(grid.AreaKey{Z: -1})
	above, _ := w.Area(grid.AreaKey{Y: 1})

	assert.Same(t, east, origin.Neighbor(blocks.East))
	assert.Same(t, origin, east.Neighbor(blocks.West))
	assert.Same(t, south, origin.Neighbor(blocks.South))
	assert.Same(t, origin, south.Neighbor(blocks.North))
	assert.Nil(t, origin.Neighbor(blocks.West))
	for _, d := range blocks.AllDirections {
		assert.Nil(t, above.Neighbor(d), "vertical areas are never linked")
	}

	_, err := w.LoadArea(grid.AreaKey{})
	assert.ErrorIs(t, err, ErrAreaExists)

	require.NoError(t, w.UnloadArea(grid.AreaKey{X: 1}))
	assert.Nil(t, origin.Neighbor(blocks.East))
	assert.ErrorIs(t, w.UnloadArea(grid.AreaKey{X: 1}), ErrAreaNotLoaded)
	assert.Equal(t, []grid.AreaKey{{Z: -1}, {}, {Y: 1}}, w.Keys())
}

func TestWireCrossesAreaBoundary(t *testing.T) {
	w := newTestWorld(t, 4, row(2)...)
	set(t, w, g(14, 0, 0), blocks.SwitchOn, blocks.East)
	for x := 15; x <= 17; x++ {
		set(t, w, g(x, 0, 0), blocks.WireOff, blocks.East)
	}
	set(t, w, g(18, 0, 0), blocks.LampOff, blocks.East)

	res, err := w.Step()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Tick)
	assert.True(t, stateAt(t, w, g(16, 0, 0)))
	assert.Equal(t, blocks.LampOn, typeAt(t, w, g(18, 0, 0)))
	assert.ElementsMatch(t, []grid.AreaKey{{}, {X: 1}}, res.DirtyAreas)

	res, err = w.Step()
	require.NoError(t, err)
	assert.Zero(t, res.Flips)
	assert.Empty(t, res.DirtyAreas)
}

func TestLongChainHandsOffBetweenWindows(t *testing.T) {
	for _, tc := range []struct {
		name          string
		from, to, dir int
	}{
		{"eastward", 0, 63, 1},
		{"westward", 63, 0, -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := newTestWorld(t, 4, row(4)...)
			set(t, w, g(tc.from, 0, 3), blocks.SwitchOn, blocks.East)
			for x := tc.from + tc.dir; x != tc.to; x += tc.dir {
				set(t, w, g(x, 0, 3), blocks.WireOff, blocks.East)
			}
			set(t, w, g(tc.to, 0, 3), blocks.LampOff, blocks.East)

			res, err := w.Step()
			require.NoError(t, err)
			assert.Positive(t, res.Handoffs)
			assert.Zero(t, res.DroppedHandoffs)
			assert.Equal(t, blocks.LampOn, typeAt(t, w, g(tc.to, 0, 3)))
		})
	}
}

func TestHandoffRoundLimitDropsLeftovers(t *testing.T) {
	w := New(Config{TickInterval: time.Millisecond, MaxHandoffRounds: 1})
	for _, k := range row(4) {
		_, err := w.LoadArea(k)
		require.NoError(t, err)
	}
	set(t, w, g(63, 0, 3), blocks.SwitchOn, blocks.East)
	for x := 62; x > 0; x-- {
		set(t, w, g(x, 0, 3), blocks.WireOff, blocks.East)
	}
	set(t, w, g(0, 0, 3), blocks.LampOff, blocks.East)

	res, err := w.Step()
	require.NoError(t, err)
	assert.Positive(t, res.DroppedHandoffs)
	assert.Equal(t, blocks.LampOff, typeAt(t, w, g(0, 0, 3)))
	for _, k := range w.Keys() {
		a, _ := w.Area(k)
		assert.Zero(t, a.PendingLen())
	}
}

func TestUnloadedBoundaryIsSafe(t *testing.T) {
	w := newTestWorld(t, 2, grid.AreaKey{})
	set(t, w, g(0, 0, 0), blocks.SwitchOn, blocks.East)
	for x := 1; x < 16; x++ {
		set(t, w, g(x, 0, 0), blocks.WireOff, blocks.East)
	}
	set(t, w, g(15, 0, 15), blocks.NotGate, blocks.North)

	_, err := w.Step()
	require.NoError(t, err)
	assert.True(t, stateAt(t, w, g(15, 0, 0)))
	assert.True(t, stateAt(t, w, g(15, 0, 15)))
}

func TestGateAcrossBoundary(t *testing.T) {
	w := newTestWorld(t, 4, row(2)...)
	// AND at the east edge of area 0 facing north; its east input lives in area 1.
	set(t, w, g(13, 0, 5), blocks.SwitchOn, blocks.East)
	set(t, w, g(14, 0, 5), blocks.WireOff, blocks.East)
	set(t, w, g(17, 0, 5), blocks.SwitchOn, blocks.East)
	set(t, w, g(16, 0, 5), blocks.WireOff, blocks.East)
	set(t, w, g(15, 0, 5), blocks.AndGate, blocks.North)
	set(t, w, g(15, 0, 6), blocks.LampOff, blocks.East)

	res, err := w.Step()
	require.NoError(t, err)
	assert.True(t, stateAt(t, w, g(15, 0, 5)))
	assert.Equal(t, 1, res.GatesOn)
	assert.Equal(t, 1, res.ActiveGates)
	assert.Equal(t, blocks.LampOff, typeAt(t, w, g(15, 0, 6)), "gate output reaches the lamp one tick later")

	_, err = w.Step()
	require.NoError(t, err)
	assert.Equal(t, blocks.LampOn, typeAt(t, w, g(15, 0, 6)))
	assert.Equal(t, 1, w.Stats().ActiveGates)
}

// buildLattice fills a 4x4 block of areas with crossing wire lines, gates and clocks so
// that many windows and handoffs are involved.
func buildLattice(t *testing.T, workers int) *World {
	var keys []grid.AreaKey
	for x := 0; x < 4; x++ {
		for z := 0; z < 4; z++ {
			keys = append(keys, grid.AreaKey{X: x, Z: z})
		}
	}
	w := newTestWorld(t, workers, keys...)
	for i := 0; i < 8; i++ {
		z := 3 + i*8
		set(t, w, g(0, 0, z), blocks.SwitchOn, blocks.East)
		for x := 1; x < 64; x++ {
			set(t, w, g(x, 0, z), blocks.WireOff, blocks.East)
		}
		x := 5 + i*8
		set(t, w, g(x, 1, 0), blocks.Clock, blocks.East)
		for zz := 1; zz < 64; zz++ {
			set(t, w, g(x, 1, zz), blocks.WireOff, blocks.East)
		}
		set(t, w, g(x, 1, 63), blocks.LampOff, blocks.East)
	}
	for i := 0; i < 7; i++ {
		gx, gz := 7+i*8, 7+i*8
		set(t, w, g(gx, 2, gz), blocks.XorGate, blocks.East)
		set(t, w, g(gx, 2, gz-1), blocks.WireOff, blocks.East)
		set(t, w, g(gx, 2, gz+1), blocks.SwitchOn, blocks.East)
		set(t, w, g(gx+1, 2, gz), blocks.WireOff, blocks.East)
	}
	return w
}

func latticeDigests(w *World) []uint64 {
	var out []uint64
	for _, k := range w.Keys() {
		a, _ := w.Area(k)
		out = append(out, a.Digest())
	}
	return out
}

func TestTickIsDeterministicAcrossWorkerCounts(t *testing.T) {
	serial := buildLattice(t, 1)
	parallel := buildLattice(t, 8)
	for i := 0; i < 6; i++ {
		rs, err := serial.Step()
		require.NoError(t, err)
		rp, err := parallel.Step()
		require.NoError(t, err)
		require.Equal(t, latticeDigests(serial), latticeDigests(parallel), "tick %d", i+1)
		require.Equal(t, rs.Flips, rp.Flips)
		require.Equal(t, rs.DirtyAreas, rp.DirtyAreas)
		require.Equal(t, rs.Digest, rp.Digest)
	}
	assert.True(t, stateAt(t, parallel, g(63, 0, 3)))
}

type recordingSink struct {
	mu  sync.Mutex
	got []TickResult
}

func (s *recordingSink) WriteTick(res TickResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, res)
	return nil
}

type orderHook struct{ events []string }

func (h *orderHook) BeforeTick(tick uint64)   { h.events = append(h.events, "before") }
func (h *orderHook) AfterTick(res TickResult) { h.events = append(h.events, "after") }

func TestStepPublishesToHooksAndSinks(t *testing.T) {
	w := newTestWorld(t, 0, grid.AreaKey{})
	sink := &recordingSink{}
	hook := &orderHook{}
	w.AddSink(sink)
	w.AddHook(hook)

	for i := 0; i < 3; i++ {
		_, err := w.Step()
		require.NoError(t, err)
	}
	require.Len(t, sink.got, 3)
	assert.Equal(t, uint64(3), sink.got[2].Tick)
	assert.Equal(t, []string{"before", "after", "before", "after", "before", "after"}, hook.events)
	assert.Equal(t, uint64(3), w.Stats().Tick)
}

type fakeReporter struct {
	keys []grid.AreaKey
}

func (f *fakeReporter) ReportPanic(key grid.AreaKey, recovered any) { f.keys = append(f.keys, key) }

func TestUnitPanicBecomesError(t *testing.T) {
	rep := &fakeReporter{}
	w := New(DefaultConfig(), WithPanicReporter(rep))
	err := w.unit(grid.AreaKey{X: 2, Z: -1}, func() { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2,0,-1")
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []grid.AreaKey{{X: 2, Z: -1}}, rep.keys)
}

func TestRunTicksAndAppliesMutations(t *testing.T) {
	w := New(Config{TickInterval: 5 * time.Millisecond, FrameRateHz: 500})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	err := w.Do(ctx, func(w *World) error {
		_, err := w.LoadArea(grid.AreaKey{})
		return err
	})
	require.NoError(t, err)
	err = w.Do(ctx, func(w *World) error {
		_, err := w.LoadArea(grid.AreaKey{})
		return err
	})
	assert.ErrorIs(t, err, ErrAreaExists)

	require.Eventually(t, func() bool { return w.Stats().Tick >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, w.Stats().Areas)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
