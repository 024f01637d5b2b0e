// Package area holds the per-chunk buffers the circuit engine reads and writes.
package area

import (
	"encoding/binary"

	"github.com/sasha-s/go-deadlock"
	"github.com/zeebo/xxh3"

	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
)

// emptyColumn marks a column with no non-air cell in ColumnMinY.
const emptyColumn = 0xFF

// Pending is a unit of deferred flood work parked on an area.
//
// A visit re-runs the block at At with the given desired state. An edge applies the
// desired state to the cell at At, as if a neighbour had just stepped into it.
type Pending struct {
	At    grid.Vec3i
	State bool
	Edge  bool
}

// Area is one cube of AreaSize^3 cells plus its worklists and horizontal neighbour links.
//
// Buffers are not synchronized. The scheduler guarantees that at most one unit of work
// touches an area at a time; only the pending inbox is locked because units may park work
// on areas outside their own window.
type Area struct {
	Key grid.AreaKey

	blockTypes []blocks.Type
	logicState []bool
	direction  []blocks.Direction

	columnMinY []uint8
	columnMaxY []uint8

	updated     []grid.Vec3i
	Inputs      CoordSet
	Gates       CoordSet
	ActiveGates CoordSet

	neighbors [4]*Area

	pendingMu deadlock.Mutex
	pending   []Pending

	digestBuf  []byte
	lastDigest uint64
	hasDigest  bool
}

func New(key grid.AreaKey) *Area {
	a := &Area{
		Key:        key,
		blockTypes: make([]blocks.Type, grid.CellCount),
		logicState: make([]bool, grid.CellCount),
		direction:  make([]blocks.Direction, grid.CellCount),
		columnMinY: make([]uint8, grid.ColumnCount),
		columnMaxY: make([]uint8, grid.ColumnCount),
	}
	for i := range a.columnMinY {
		a.columnMinY[i] = emptyColumn
	}
	return a
}

func (a *Area) Type(l grid.Vec3i) blocks.Type { return a.blockTypes[grid.CellIndex(l)] }

func (a *Area) SetType(l grid.Vec3i, t blocks.Type) { a.blockTypes[grid.CellIndex(l)] = t }

func (a *Area) State(l grid.Vec3i) bool { return a.logicState[grid.CellIndex(l)] }

func (a *Area) SetState(l grid.Vec3i, on bool) { a.logicState[grid.CellIndex(l)] = on }

func (a *Area) Facing(l grid.Vec3i) blocks.Direction { return a.direction[grid.CellIndex(l)] }

func (a *Area) SetFacing(l grid.Vec3i, d blocks.Direction) { a.direction[grid.CellIndex(l)] = d }

// GlobalPosition converts a local coordinate of this area to a world position.
func (a *Area) GlobalPosition(l grid.Vec3i) grid.Vec3i { return grid.GlobalPosition(a.Key, l) }

// ColumnRange returns the lowest and highest non-air Y of a column; ok is false for an
// all-air column.
func (a *Area) ColumnRange(x, z int) (minY, maxY int, ok bool) {
	col := grid.ColumnIndex(grid.Vec3i{X: x, Z: z})
	if a.columnMinY[col] == emptyColumn {
		return 0, 0, false
	}
	return int(a.columnMinY[col]), int(a.columnMaxY[col]), true
}

// NoteColumn keeps the column heightmaps consistent after the cell at l changed.
func (a *Area) NoteColumn(l grid.Vec3i) {
	col := grid.ColumnIndex(l)
	y := uint8(l.Y)
	if a.Type(l) != blocks.Air {
		if a.columnMinY[col] == emptyColumn {
			a.columnMinY[col], a.columnMaxY[col] = y, y
			return
		}
		if y < a.columnMinY[col] {
			a.columnMinY[col] = y
		}
		if y > a.columnMaxY[col] {
			a.columnMaxY[col] = y
		}
		return
	}
	if a.columnMinY[col] == emptyColumn {
		return
	}
	if y == a.columnMinY[col] || y == a.columnMaxY[col] {
		a.rescanColumn(l.X, l.Z)
	}
}

func (a *Area) rescanColumn(x, z int) {
	col := grid.ColumnIndex(grid.Vec3i{X: x, Z: z})
	a.columnMinY[col] = emptyColumn
	a.columnMaxY[col] = 0
	for y := 0; y < grid.AreaSize; y++ {
		if a.Type(grid.Vec3i{X: x, Y: y, Z: z}) == blocks.Air {
			continue
		}
		if a.columnMinY[col] == emptyColumn {
			a.columnMinY[col] = uint8(y)
		}
		a.columnMaxY[col] = uint8(y)
	}
}

// MarkUpdated queues l for classification and reactive propagation on the next tick.
// Duplicates are allowed.
func (a *Area) MarkUpdated(l grid.Vec3i) { a.updated = append(a.updated, l) }

func (a *Area) UpdatedLen() int { return len(a.updated) }

// DrainUpdated returns the queued coordinates and clears the live worklist.
func (a *Area) DrainUpdated() []grid.Vec3i {
	if len(a.updated) == 0 {
		return nil
	}
	out := make([]grid.Vec3i, len(a.updated))
	copy(out, a.updated)
	a.updated = a.updated[:0]
	return out
}

// Neighbor returns the linked area in direction d, or nil when it is not loaded.
func (a *Area) Neighbor(d blocks.Direction) *Area { return a.neighbors[d] }

// Link connects a and b symmetrically; b lies in direction d of a.
func (a *Area) Link(d blocks.Direction, b *Area) {
	a.neighbors[d] = b
	if b != nil {
		b.neighbors[d.Opposite()] = a
	}
}

// UnlinkAll drops every link to and from a.
func (a *Area) UnlinkAll() {
	for _, d := range blocks.AllDirections {
		if b := a.neighbors[d]; b != nil && b.neighbors[d.Opposite()] == a {
			b.neighbors[d.Opposite()] = nil
		}
		a.neighbors[d] = nil
	}
}

// Park queues deferred flood work. Safe for concurrent use.
func (a *Area) Park(p Pending) {
	a.pendingMu.Lock()
	a.pending = append(a.pending, p)
	a.pendingMu.Unlock()
}

// TakePending empties the inbox.
func (a *Area) TakePending() []Pending {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	if len(a.pending) == 0 {
		return nil
	}
	out := a.pending
	a.pending = nil
	return out
}

func (a *Area) PendingLen() int {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	return len(a.pending)
}

// Digest hashes block types and logic bits.
func (a *Area) Digest() uint64 {
	if a.digestBuf == nil {
		a.digestBuf = make([]byte, 0, 2*grid.CellCount+8)
	}
	buf := a.digestBuf[:0]
	for i, t := range a.blockTypes {
		var s byte
		if a.logicState[i] {
			s = 1
		}
		buf = append(buf, byte(t), s)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(a.ActiveGates.Len()))
	a.digestBuf = buf
	return xxh3.Hash(buf)
}

// LastDigest is the digest computed by the latest CheckDirty.
func (a *Area) LastDigest() uint64 { return a.lastDigest }

// CheckDirty reports whether the buffers changed since the previous call. The first call
// after creation always reports dirty.
func (a *Area) CheckDirty() bool {
	d := a.Digest()
	dirty := !a.hasDigest || d != a.lastDigest
	a.lastDigest = d
	a.hasDigest = true
	return dirty
}
