// Package blocks holds the static, process-wide block type table used by the circuit engine.
package blocks

import "strings"

type Type uint8

const (
	Air Type = iota
	Stone
	WireOff
	WireOn
	LampOff
	LampOn
	SwitchOff
	SwitchOn
	Clock
	AndGate
	OrGate
	XorGate
	NotGate

	numTypes
)

// Arity is the number of logical inputs a gate consumes.
type Arity uint8

const (
	ArityNone Arity = iota
	ArityOne
	ArityTwo
)

type props struct {
	name      string
	receives  bool
	conductor bool
	input     bool
	arity     Arity
	on, off   Type
}

var table = [numTypes]props{
	Air:       {name: "AIR", on: Air, off: Air},
	Stone:     {name: "STONE", on: Stone, off: Stone},
	WireOff:   {name: "WIRE", receives: true, conductor: true, on: WireOn, off: WireOff},
	WireOn:    {name: "WIRE_ON", receives: true, conductor: true, on: WireOn, off: WireOff},
	LampOff:   {name: "LAMP", receives: true, conductor: true, on: LampOn, off: LampOff},
	LampOn:    {name: "LAMP_ON", receives: true, conductor: true, on: LampOn, off: LampOff},
	SwitchOff: {name: "SWITCH", input: true, on: SwitchOn, off: SwitchOff},
	SwitchOn:  {name: "SWITCH_ON", input: true, on: SwitchOn, off: SwitchOff},
	Clock:     {name: "CLOCK", input: true, on: Clock, off: Clock},
	AndGate:   {name: "AND_GATE", arity: ArityTwo, on: AndGate, off: AndGate},
	OrGate:    {name: "OR_GATE", arity: ArityTwo, on: OrGate, off: OrGate},
	XorGate:   {name: "XOR_GATE", arity: ArityTwo, on: XorGate, off: XorGate},
	NotGate:   {name: "NOT_GATE", arity: ArityOne, on: NotGate, off: NotGate},
}

func (t Type) Valid() bool { return t < numTypes }

func (t Type) String() string {
	if !t.Valid() {
		return "UNKNOWN"
	}
	return table[t].name
}

// CanReceiveLogic reports whether the flood may write this block's logic bit.
func (t Type) CanReceiveLogic() bool { return t.Valid() && table[t].receives }

// IsConductor reports whether a flipped block of this type keeps the wave going.
func (t Type) IsConductor() bool { return t.Valid() && table[t].conductor }

func (t Type) IsInput() bool { return t.Valid() && table[t].input }

func (t Type) Arity() Arity {
	if !t.Valid() {
		return ArityNone
	}
	return table[t].arity
}

func (t Type) IsGate() bool { return t.Arity() != ArityNone }

func (t Type) IsTwoInputGate() bool { return t.Arity() == ArityTwo }

// OnVariant and OffVariant return t itself for types without visual state.
func (t Type) OnVariant() Type {
	if !t.Valid() {
		return t
	}
	return table[t].on
}

func (t Type) OffVariant() Type {
	if !t.Valid() {
		return t
	}
	return table[t].off
}

// Variant returns the on or off variant of t.
func (t Type) Variant(on bool) Type {
	if on {
		return t.OnVariant()
	}
	return t.OffVariant()
}

// SignalCapable reports whether a logic bit is meaningful for this type.
func (t Type) SignalCapable() bool {
	return t.CanReceiveLogic() || t.IsInput() || t.IsGate()
}

// IsDirectional reports whether the facing buffer matters for this type.
func (t Type) IsDirectional() bool { return t.IsGate() || t.IsInput() }

// ParseType accepts the palette names, case-insensitively.
func ParseType(name string) (Type, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for i := Type(0); i < numTypes; i++ {
		if table[i].name == n {
			return i, true
		}
	}
	return Air, false
}

// Palette lists every block name, indexed by Type.
func Palette() []string {
	out := make([]string, numTypes)
	for i := range out {
		out[i] = table[i].name
	}
	return out
}
