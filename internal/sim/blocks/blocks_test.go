package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circuitcraft.ai/internal/sim/grid"
)

func TestVariantsRoundTrip(t *testing.T) {
	pairs := [][2]Type{{WireOff, WireOn}, {LampOff, LampOn}, {SwitchOff, SwitchOn}}
	for _, p := range pairs {
		off, on := p[0], p[1]
		assert.Equal(t, on, off.OnVariant(), off.String())
		assert.Equal(t, off, on.OffVariant(), on.String())
		assert.Equal(t, on, on.OnVariant())
		assert.Equal(t, off, off.OffVariant())
	}
	for _, t2 := range []Type{Air, Stone, Clock, AndGate, OrGate, XorGate, NotGate} {
		assert.Equal(t, t2, t2.Variant(true))
		assert.Equal(t, t2, t2.Variant(false))
	}
}

func TestClassificationFlags(t *testing.T) {
	assert.True(t, WireOff.CanReceiveLogic())
	assert.True(t, LampOn.IsConductor())
	assert.False(t, NotGate.CanReceiveLogic())
	assert.False(t, AndGate.CanReceiveLogic())
	assert.False(t, SwitchOn.CanReceiveLogic())
	assert.False(t, Air.SignalCapable())

	assert.True(t, Clock.IsInput())
	assert.True(t, SwitchOff.IsInput())
	assert.False(t, NotGate.IsInput())

	assert.Equal(t, ArityOne, NotGate.Arity())
	assert.Equal(t, ArityTwo, XorGate.Arity())
	assert.Equal(t, ArityNone, WireOn.Arity())
	assert.True(t, OrGate.IsTwoInputGate())
	assert.False(t, NotGate.IsTwoInputGate())
}

func TestParseTypeMatchesPalette(t *testing.T) {
	for i, name := range Palette() {
		got, ok := ParseType(name)
		require.True(t, ok, name)
		assert.Equal(t, Type(i), got)
	}
	got, ok := ParseType(" and_gate ")
	require.True(t, ok)
	assert.Equal(t, AndGate, got)
	_, ok = ParseType("PISTON")
	assert.False(t, ok)
}

func TestDirections(t *testing.T) {
	for _, d := range AllDirections {
		assert.Equal(t, d, d.Opposite().Opposite())
		sum := d.Offset().Add(d.Opposite().Offset())
		assert.Equal(t, grid.Vec3i{}, sum)
	}
	assert.Equal(t, [2]Direction{South, North}, East.Perpendicular())
	assert.Equal(t, [2]Direction{West, East}, North.Perpendicular())

	d, ok := ParseDirection("north")
	require.True(t, ok)
	assert.Equal(t, North, d)
}
