package circuit

import (
	"circuitcraft.ai/internal/sim/area"
	"circuitcraft.ai/internal/sim/assert"
	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
)

// Resolve translates a local coordinate of from, which may overflow the cube by one step
// on X or Z, into the area that owns it and that area's local frame. ok is false when the
// owning neighbour is not loaded; callers drop the step silently.
func Resolve(from *area.Area, l grid.Vec3i) (*area.Area, grid.Vec3i, bool) {
	outX := l.X < 0 || l.X >= grid.AreaSize
	outZ := l.Z < 0 || l.Z >= grid.AreaSize
	assert.IsTrue(!(outX && outZ), "%v leaves area %v on both X and Z", l, from.Key)
	assert.IsTrue(l.Y >= 0 && l.Y < grid.AreaSize, "%v leaves area %v vertically", l, from.Key)

	var dst *area.Area
	switch {
	case l.X == -1:
		dst = from.Neighbor(blocks.West)
	case l.X == grid.AreaSize:
		dst = from.Neighbor(blocks.East)
	case l.Z == -1:
		dst = from.Neighbor(blocks.South)
	case l.Z == grid.AreaSize:
		dst = from.Neighbor(blocks.North)
	default:
		assert.IsTrue(!outX && !outZ, "%v is more than one step outside area %v", l, from.Key)
		return from, l, true
	}
	if dst == nil {
		return nil, grid.Vec3i{}, false
	}
	return dst, grid.Vec3i{X: grid.Wrap(l.X), Y: l.Y, Z: grid.Wrap(l.Z)}, true
}

// Window is the set of areas one unit of work may read and write: the owner and its four
// horizontal neighbours.
type Window struct {
	members [5]*area.Area
}

func NewWindow(owner *area.Area) Window {
	w := Window{}
	w.members[0] = owner
	for i, d := range blocks.AllDirections {
		w.members[i+1] = owner.Neighbor(d)
	}
	return w
}

func (w Window) Owner() *area.Area { return w.members[0] }

func (w Window) Contains(a *area.Area) bool {
	if a == nil {
		return false
	}
	for _, m := range w.members {
		if m == a {
			return true
		}
	}
	return false
}
