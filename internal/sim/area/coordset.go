package area

import "circuitcraft.ai/internal/sim/grid"

// CoordSet is an insertion-ordered set of local coordinates with O(1) add, membership and
// removal. Removal swaps the last element into the hole.
type CoordSet struct {
	items []grid.Vec3i
	slot  map[int]int // cell index -> position in items
}

func (s *CoordSet) Len() int { return len(s.items) }

func (s *CoordSet) Has(l grid.Vec3i) bool {
	_, ok := s.slot[grid.CellIndex(l)]
	return ok
}

// Add reports whether l was newly inserted.
func (s *CoordSet) Add(l grid.Vec3i) bool {
	if s.slot == nil {
		s.slot = map[int]int{}
	}
	i := grid.CellIndex(l)
	if _, ok := s.slot[i]; ok {
		return false
	}
	s.slot[i] = len(s.items)
	s.items = append(s.items, l)
	return true
}

// Remove is a no-op when l is absent.
func (s *CoordSet) Remove(l grid.Vec3i) bool {
	i := grid.CellIndex(l)
	pos, ok := s.slot[i]
	if !ok {
		return false
	}
	last := len(s.items) - 1
	if pos != last {
		moved := s.items[last]
		s.items[pos] = moved
		s.slot[grid.CellIndex(moved)] = pos
	}
	s.items = s.items[:last]
	delete(s.slot, i)
	return true
}

// Items returns a copy, safe to hold while the set is mutated.
func (s *CoordSet) Items() []grid.Vec3i {
	out := make([]grid.Vec3i, len(s.items))
	copy(out, s.items)
	return out
}

func (s *CoordSet) Clear() {
	s.items = s.items[:0]
	for k := range s.slot {
		delete(s.slot, k)
	}
}
