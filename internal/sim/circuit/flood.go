package circuit

import (
	"circuitcraft.ai/internal/sim/area"
	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/grid"
)

// DefaultBudget caps the visits of one flood. A wave over a window of five full areas
// settles far below it; hitting it means competing waves and is reported, not fatal.
const DefaultBudget = 16 * 5 * grid.CellCount

// Stats counts what one flood did.
type Stats struct {
	Visits    int
	Flips     int
	Parked    int
	Unloaded  int
	Truncated int
}

func (s *Stats) Add(o Stats) {
	s.Visits += o.Visits
	s.Flips += o.Flips
	s.Parked += o.Parked
	s.Unloaded += o.Unloaded
	s.Truncated += o.Truncated
}

// Handoff is a step that left the window of the flood that produced it.
type Handoff struct {
	To      *area.Area
	Pending area.Pending
}

type item struct {
	at    grid.Vec3i
	owner *area.Area
	state bool
}

// Flood is the breadth-first signal wave of one unit of work. It reads and writes only the
// areas of its window; steps that leave the window are collected as handoffs and parked on
// the target area by FlushHandoffs, once the unit is done.
type Flood struct {
	win      Window
	queue    []item
	head     int
	handoffs []Handoff

	Budget int
	Stats  Stats
}

func NewFlood(owner *area.Area) *Flood {
	return &Flood{win: NewWindow(owner), Budget: DefaultBudget}
}

// Seed queues a visit of an owner cell.
func (f *Flood) Seed(l grid.Vec3i, state bool) {
	f.push(item{at: l, owner: f.win.Owner(), state: state})
}

// Resume replays work parked on the owner.
func (f *Flood) Resume(ps []area.Pending) {
	owner := f.win.Owner()
	for _, p := range ps {
		if p.Edge {
			f.apply(owner, p.At, p.State)
			continue
		}
		f.Seed(p.At, p.State)
	}
}

// Drain runs the wave until the queue is empty or the budget is spent.
func (f *Flood) Drain() {
	spent := 0
	for f.head < len(f.queue) {
		if f.Budget > 0 && spent >= f.Budget {
			f.Stats.Truncated++
			break
		}
		it := f.queue[f.head]
		f.head++
		spent++
		f.visit(it)
	}
	f.queue = f.queue[:0]
	f.head = 0
}

// FlushHandoffs parks the collected handoffs on their target areas in the order they were
// produced.
func (f *Flood) FlushHandoffs() {
	for _, h := range f.handoffs {
		h.To.Park(h.Pending)
	}
	f.handoffs = f.handoffs[:0]
}

func (f *Flood) Handoffs() []Handoff { return f.handoffs }

func (f *Flood) push(it item) { f.queue = append(f.queue, it) }

func (f *Flood) handoff(to *area.Area, p area.Pending) {
	f.handoffs = append(f.handoffs, Handoff{To: to, Pending: p})
	f.Stats.Parked++
}

func (f *Flood) visit(it item) {
	f.Stats.Visits++
	a := it.owner
	t := a.Type(it.at)

	if it.state && t == blocks.SwitchOff {
		return
	}
	// A conductor flipped again after this item was queued; the newer item carries on.
	if t.IsConductor() && a.State(it.at) != it.state {
		return
	}

	switch {
	case t == blocks.Clock:
		v := !a.State(it.at)
		a.SetState(it.at, v)
		f.emitAll(a, it.at, v)

	case t.IsTwoInputGate():
		// Output is owned by the gate evaluator; carry it forward only.
		f.emit(a, it.at, a.Facing(it.at), a.State(it.at))

	case t == blocks.NotGate:
		facing := a.Facing(it.at)
		in := false
		if src, l, ok := Resolve(a, it.at.Add(facing.Opposite().Offset())); ok {
			if !f.win.Contains(src) {
				// The input lies beyond the window; rerun the gate when its owner runs.
				f.handoff(a, area.Pending{At: it.at, State: it.state})
				return
			}
			in = src.State(l)
		}
		a.SetState(it.at, !in)
		f.emit(a, it.at, facing, !in)

	default:
		if t.IsInput() {
			a.SetState(it.at, t == blocks.SwitchOn)
		}
		f.emitAll(a, it.at, it.state)
	}
}

func (f *Flood) emitAll(a *area.Area, at grid.Vec3i, v bool) {
	for _, d := range blocks.AllDirections {
		f.emit(a, at, d, v)
	}
}

func (f *Flood) emit(a *area.Area, at grid.Vec3i, d blocks.Direction, v bool) {
	dst, l, ok := Resolve(a, at.Add(d.Offset()))
	if !ok {
		f.Stats.Unloaded++
		return
	}
	if !f.win.Contains(dst) {
		f.handoff(dst, area.Pending{At: l, State: v, Edge: true})
		return
	}
	f.apply(dst, l, v)
}

// apply is one edge of the wave: the no-op-if-unchanged check is what terminates it.
func (f *Flood) apply(dst *area.Area, l grid.Vec3i, v bool) {
	t := dst.Type(l)
	if !t.CanReceiveLogic() {
		return
	}
	if dst.State(l) == v {
		return
	}
	dst.SetState(l, v)
	dst.SetType(l, t.Variant(v))
	f.Stats.Flips++
	if t.IsConductor() {
		f.push(item{at: l, owner: dst, state: v})
	}
}
