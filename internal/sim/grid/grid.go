package grid

import "fmt"

// AreaSize is the side length of an area cube, in cells.
const AreaSize = 16

const (
	ColumnCount = AreaSize * AreaSize
	CellCount   = AreaSize * AreaSize * AreaSize
)

// Vec3i is an integer cell position. Depending on context it is either local to one
// area (each axis in [0, AreaSize)) or global.
type Vec3i struct {
	X int
	Y int
	Z int
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3i) ToArray() [3]int { return [3]int{v.X, v.Y, v.Z} }

func FromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// InArea reports whether v is a valid local coordinate.
func (v Vec3i) InArea() bool {
	return inRange(v.X) && inRange(v.Y) && inRange(v.Z)
}

func inRange(c int) bool { return c >= 0 && c < AreaSize }

// CellIndex maps a local coordinate to its linear index. X varies fastest, then Z, then Y.
// The caller guarantees l.InArea().
func CellIndex(l Vec3i) int {
	return l.X + l.Z*AreaSize + l.Y*AreaSize*AreaSize
}

// CellAt is the inverse of CellIndex.
func CellAt(i int) Vec3i {
	return Vec3i{
		X: i % AreaSize,
		Z: (i / AreaSize) % AreaSize,
		Y: i / (AreaSize * AreaSize),
	}
}

// ColumnIndex collapses the Y axis of a local coordinate.
func ColumnIndex(l Vec3i) int {
	return l.X + l.Z*AreaSize
}

// AreaKey is the integer coordinate of an area in the area lattice.
type AreaKey struct {
	X int
	Y int
	Z int
}

func (k AreaKey) Add(dx, dy, dz int) AreaKey {
	return AreaKey{X: k.X + dx, Y: k.Y + dy, Z: k.Z + dz}
}

func (k AreaKey) String() string { return fmt.Sprintf("%d,%d,%d", k.X, k.Y, k.Z) }

func (k AreaKey) ToArray() [3]int { return [3]int{k.X, k.Y, k.Z} }

// Less orders keys by X, then Z, then Y.
func (k AreaKey) Less(o AreaKey) bool {
	if k.X != o.X {
		return k.X < o.X
	}
	if k.Z != o.Z {
		return k.Z < o.Z
	}
	return k.Y < o.Y
}

// GlobalPosition returns location*AreaSize + local.
func GlobalPosition(k AreaKey, l Vec3i) Vec3i {
	return Vec3i{
		X: k.X*AreaSize + l.X,
		Y: k.Y*AreaSize + l.Y,
		Z: k.Z*AreaSize + l.Z,
	}
}

// SplitGlobal returns the area that owns a global position and the local coordinate inside it.
func SplitGlobal(g Vec3i) (AreaKey, Vec3i) {
	k := AreaKey{
		X: FloorDiv(g.X, AreaSize),
		Y: FloorDiv(g.Y, AreaSize),
		Z: FloorDiv(g.Z, AreaSize),
	}
	l := Vec3i{
		X: Mod(g.X, AreaSize),
		Y: Mod(g.Y, AreaSize),
		Z: Mod(g.Z, AreaSize),
	}
	return k, l
}

// Wrap folds a component that overflowed by one step back into [0, AreaSize).
func Wrap(c int) int { return Mod(c, AreaSize) }

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
