// Package registry tracks circuit components by global position for the edit layer: power
// sources, gates, the gates currently on, and blocks waiting to be depowered.
package registry

import (
	"github.com/elliotchance/orderedmap/v2"
	"github.com/sasha-s/go-deadlock"

	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
)

type Entry struct {
	Pos    grid.Vec3i
	Type   blocks.Type
	Facing blocks.Direction
}

type Counts struct {
	Sources     int
	Gates       int
	ActiveGates int
	Depower     int
}

// Registry is safe for concurrent use. Listings come back in insertion order.
type Registry struct {
	mu deadlock.RWMutex

	sources *orderedmap.OrderedMap[grid.Vec3i, Entry]
	gates   *orderedmap.OrderedMap[grid.Vec3i, Entry]
	active  *orderedmap.OrderedMap[grid.Vec3i, struct{}]
	depower *orderedmap.OrderedMap[grid.Vec3i, struct{}]
}

func New() *Registry {
	return &Registry{
		sources: orderedmap.NewOrderedMap[grid.Vec3i, Entry](),
		gates:   orderedmap.NewOrderedMap[grid.Vec3i, Entry](),
		active:  orderedmap.NewOrderedMap[grid.Vec3i, struct{}](),
		depower: orderedmap.NewOrderedMap[grid.Vec3i, struct{}](),
	}
}

// Track files e under the source or gate table according to its type, replacing whatever
// was recorded at the same position. Other types are only forgotten.
func (r *Registry) Track(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgetLocked(e.Pos)
	switch {
	case e.Type.IsInput():
		r.sources.Set(e.Pos, e)
	case e.Type.IsGate():
		r.gates.Set(e.Pos, e)
	}
}

func (r *Registry) Forget(pos grid.Vec3i) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgetLocked(pos)
}

func (r *Registry) forgetLocked(pos grid.Vec3i) {
	r.sources.Delete(pos)
	r.gates.Delete(pos)
	r.active.Delete(pos)
}

func (r *Registry) Source(pos grid.Vec3i) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources.Get(pos)
}

func (r *Registry) Gate(pos grid.Vec3i) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gates.Get(pos)
}

func (r *Registry) Sources() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return values(r.sources)
}

func (r *Registry) Gates() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return values(r.gates)
}

func values(m *orderedmap.OrderedMap[grid.Vec3i, Entry]) []Entry {
	out := make([]Entry, 0, m.Len())
	for el := m.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value)
	}
	return out
}

// ReplaceActive swaps in a new set of active gates, keeping the given order.
func (r *Registry) ReplaceActive(on []grid.Vec3i) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = orderedmap.NewOrderedMap[grid.Vec3i, struct{}]()
	for _, p := range on {
		r.active.Set(p, struct{}{})
	}
}

func (r *Registry) IsActive(pos grid.Vec3i) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active.Get(pos)
	return ok
}

func (r *Registry) ActiveGates() []grid.Vec3i {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active.Keys()
}

// QueueDepower records a powered block that was removed. Queuing the same position twice
// keeps a single entry.
func (r *Registry) QueueDepower(pos grid.Vec3i) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depower.Set(pos, struct{}{})
}

// DrainDepower returns the queued positions in the order they were first queued and
// empties the queue.
func (r *Registry) DrainDepower() []grid.Vec3i {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.depower.Len() == 0 {
		return nil
	}
	out := r.depower.Keys()
	r.depower = orderedmap.NewOrderedMap[grid.Vec3i, struct{}]()
	return out
}

func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Counts{
		Sources:     r.sources.Len(),
		Gates:       r.gates.Len(),
		ActiveGates: r.active.Len(),
		Depower:     r.depower.Len(),
	}
}
