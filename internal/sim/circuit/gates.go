package circuit

import (
	"circuitcraft.ai/internal/sim/area"
	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
)

// GateOutput is the evaluated output of one two-input gate.
type GateOutput struct {
	At grid.Vec3i
	On bool
}

// Truth is the two-input gate truth table over the number of inputs that are on.
func Truth(t blocks.Type, onCount int) bool {
	switch t {
	case blocks.AndGate:
		return onCount >= 2
	case blocks.OrGate:
		return onCount >= 1
	case blocks.XorGate:
		return onCount == 1
	}
	return false
}

// EvaluateGates computes the output of every gate of a. It only reads, so all areas can be
// evaluated concurrently before any result is applied.
func EvaluateGates(a *area.Area) []GateOutput {
	if a.Gates.Len() == 0 {
		return nil
	}
	out := make([]GateOutput, 0, a.Gates.Len())
	for _, g := range a.Gates.Items() {
		t := a.Type(g)
		if !t.IsTwoInputGate() {
			continue
		}
		on := 0
		for _, d := range a.Facing(g).Perpendicular() {
			src, l, ok := Resolve(a, g.Add(d.Offset()))
			if !ok {
				continue
			}
			if src.State(l) {
				on++
			}
		}
		out = append(out, GateOutput{At: g, On: Truth(t, on)})
	}
	return out
}

// ApplyGates writes evaluated outputs into a. A gate that turns off is queued in
// updatedBlocks so its now-off output is carried downstream on the next tick.
func ApplyGates(a *area.Area, outs []GateOutput) (turnedOn, turnedOff int) {
	for _, o := range outs {
		a.SetState(o.At, o.On)
		active := a.ActiveGates.Has(o.At)
		switch {
		case o.On && !active:
			a.ActiveGates.Add(o.At)
			turnedOn++
		case !o.On && active:
			a.ActiveGates.Remove(o.At)
			a.MarkUpdated(o.At)
			turnedOff++
		}
	}
	return turnedOn, turnedOff
}
