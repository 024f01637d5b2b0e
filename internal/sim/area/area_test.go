package area

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
)

func TestCoordSetAddRemove(t *testing.T) {
	var s CoordSet
	a := grid.Vec3i{X: 1}
	b := grid.Vec3i{X: 2}
	c := grid.Vec3i{X: 3}

	require.True(t, s.Add(a))
	require.False(t, s.Add(a))
	s.Add(b)
	s.Add(c)
	require.Equal(t, 3, s.Len())

	require.True(t, s.Remove(a))
	require.False(t, s.Remove(a))
	assert.False(t, s.Has(a))
	assert.True(t, s.Has(b))
	assert.True(t, s.Has(c))
	assert.ElementsMatch(t, []grid.Vec3i{b, c}, s.Items())

	// Swapped element must still be removable by coordinate.
	require.True(t, s.Remove(c))
	assert.Equal(t, []grid.Vec3i{b}, s.Items())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Has(b))
}

func TestLinkIsSymmetric(t *testing.T) {
	a := New(grid.AreaKey{})
	b := New(grid.AreaKey{X: 1})
	a.Link(blocks.East, b)

	assert.Same(t, b, a.Neighbor(blocks.East))
	assert.Same(t, a, b.Neighbor(blocks.West))

	b.UnlinkAll()
	assert.Nil(t, a.Neighbor(blocks.East))
	assert.Nil(t, b.Neighbor(blocks.West))
}

func TestDrainUpdatedClearsWorklist(t *testing.T) {
	a := New(grid.AreaKey{})
	l := grid.Vec3i{X: 4, Y: 1, Z: 2}
	a.MarkUpdated(l)
	a.MarkUpdated(l)

	got := a.DrainUpdated()
	assert.Equal(t, []grid.Vec3i{l, l}, got)
	assert.Equal(t, 0, a.UpdatedLen())
	assert.Nil(t, a.DrainUpdated())
}

func TestColumnRangeTracksEdits(t *testing.T) {
	a := New(grid.AreaKey{})
	_, _, ok := a.ColumnRange(3, 3)
	require.False(t, ok)

	place := func(y int, typ blocks.Type) {
		l := grid.Vec3i{X: 3, Y: y, Z: 3}
		a.SetType(l, typ)
		a.NoteColumn(l)
	}
	place(5, blocks.WireOff)
	place(2, blocks.Stone)
	place(9, blocks.LampOff)

	lo, hi, ok := a.ColumnRange(3, 3)
	require.True(t, ok)
	assert.Equal(t, 2, lo)
	assert.Equal(t, 9, hi)

	place(9, blocks.Air)
	lo, hi, _ = a.ColumnRange(3, 3)
	assert.Equal(t, 2, lo)
	assert.Equal(t, 5, hi)

	place(2, blocks.Air)
	place(5, blocks.Air)
	_, _, ok = a.ColumnRange(3, 3)
	assert.False(t, ok)
}

func TestCheckDirty(t *testing.T) {
	a := New(grid.AreaKey{})
	assert.True(t, a.CheckDirty())
	assert.False(t, a.CheckDirty())

	l := grid.Vec3i{X: 1}
	a.SetState(l, true)
	assert.True(t, a.CheckDirty())
	assert.False(t, a.CheckDirty())

	a.SetType(l, blocks.WireOn)
	assert.True(t, a.CheckDirty())
}

func TestLastDigestFollowsCheckDirty(t *testing.T) {
	a := New(grid.AreaKey{})
	b := New(grid.AreaKey{X: 3})
	require.Zero(t, a.LastDigest())

	a.CheckDirty()
	b.CheckDirty()
	assert.Equal(t, a.Digest(), a.LastDigest())
	assert.Equal(t, a.LastDigest(), b.LastDigest(), "digest covers buffers, not the key")

	before := a.LastDigest()
	a.SetType(grid.Vec3i{Y: 2}, blocks.Stone)
	assert.Equal(t, before, a.LastDigest(), "only CheckDirty moves the recorded digest")
	a.CheckDirty()
	assert.NotEqual(t, before, a.LastDigest())
}

func TestParkIsConcurrencySafe(t *testing.T) {
	a := New(grid.AreaKey{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a.Park(Pending{At: grid.Vec3i{X: i}, State: true, Edge: true})
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 800, a.PendingLen())
	assert.Len(t, a.TakePending(), 800)
	assert.Equal(t, 0, a.PendingLen())
}
