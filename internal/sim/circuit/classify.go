package circuit

import (
	"circuitcraft.ai/internal/sim/area"
	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
)

// Classify drains the updated worklist of a and files every coordinate into the input or
// gate worklists according to the block now there. The drained coordinates seed the
// reactive pass.
func Classify(a *area.Area) []grid.Vec3i {
	drained := a.DrainUpdated()
	for _, l := range drained {
		t := a.Type(l)
		switch {
		case t.IsInput() || t == blocks.NotGate:
			a.Gates.Remove(l)
			a.ActiveGates.Remove(l)
			a.Inputs.Add(l)
		case t.IsTwoInputGate():
			a.Inputs.Remove(l)
			a.Gates.Add(l)
		default:
			// Air, or a plain block that replaced a source or gate in place.
			a.Inputs.Remove(l)
			a.Gates.Remove(l)
			a.ActiveGates.Remove(l)
		}
	}
	return drained
}

// ForcedSeeds lists the cells the forced pass re-asserts every tick: inputs first, then
// gates that are currently on.
func ForcedSeeds(a *area.Area) []grid.Vec3i {
	out := make([]grid.Vec3i, 0, a.Inputs.Len()+a.ActiveGates.Len())
	out = append(out, a.Inputs.Items()...)
	out = append(out, a.ActiveGates.Items()...)
	return out
}
