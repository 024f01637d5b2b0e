package blocks

import (
	"strings"

	"circuitcraft.ai/internal/sim/grid"
)

// Direction is one of the four horizontal cardinals.
type Direction uint8

const (
	West  Direction = iota // -X
	East                   // +X
	South                  // -Z
	North                  // +Z
)

// AllDirections is the fixed iteration order used by the flood.
var AllDirections = [4]Direction{West, East, South, North}

var offsets = [4]grid.Vec3i{
	West:  {X: -1},
	East:  {X: 1},
	South: {Z: -1},
	North: {Z: 1},
}

var opposite = [4]Direction{
	West:  East,
	East:  West,
	South: North,
	North: South,
}

var dirNames = [4]string{"WEST", "EAST", "SOUTH", "NORTH"}

func (d Direction) Offset() grid.Vec3i { return offsets[d&3] }

func (d Direction) Opposite() Direction { return opposite[d&3] }

func (d Direction) String() string { return dirNames[d&3] }

// AlongX reports whether d points along the X axis.
func (d Direction) AlongX() bool { return d == West || d == East }

// Perpendicular returns the two input sides of a two-input gate facing d.
func (d Direction) Perpendicular() [2]Direction {
	if d.AlongX() {
		return [2]Direction{South, North}
	}
	return [2]Direction{West, East}
}

func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WEST", "XN", "-X":
		return West, true
	case "EAST", "XP", "+X", "":
		return East, true
	case "SOUTH", "ZN", "-Z":
		return South, true
	case "NORTH", "ZP", "+Z":
		return North, true
	}
	return East, false
}
