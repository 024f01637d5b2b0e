package observer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"circuitcraft.ai/internal/observerproto"
	"circuitcraft.ai/internal/sim/grid"
	"circuitcraft.ai/internal/sim/world"
)

var ErrHubFull = errors.New("observer hub full")

// Hub fans tick summaries out to observer sessions. It is a world.Sink and never blocks
// the world loop: a session whose queue is full misses that tick.
type Hub struct {
	log        logrus.FieldLogger
	maxClients int
	queue      int

	mu      deadlock.RWMutex
	clients map[string]*session

	nextID  atomic.Uint64
	dropped atomic.Uint64
}

type session struct {
	id     string
	out    chan []byte
	filter map[grid.AreaKey]bool
}

func NewHub(maxClients, queue int, log logrus.FieldLogger) *Hub {
	if queue <= 0 {
		queue = 64
	}
	return &Hub{
		log:        log.WithField("component", "observer"),
		maxClients: maxClients,
		queue:      queue,
		clients:    map[string]*session{},
	}
}

func filterOf(areas [][3]int) map[grid.AreaKey]bool {
	if len(areas) == 0 {
		return nil
	}
	f := make(map[grid.AreaKey]bool, len(areas))
	for _, a := range areas {
		f[grid.AreaKey{X: a[0], Y: a[1], Z: a[2]}] = true
	}
	return f
}

func (h *Hub) join(areas [][3]int) (*session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxClients > 0 && len(h.clients) >= h.maxClients {
		return nil, ErrHubFull
	}
	s := &session{
		id:     fmt.Sprintf("O%d", h.nextID.Add(1)),
		out:    make(chan []byte, h.queue),
		filter: filterOf(areas),
	}
	h.clients[s.id] = s
	return s, nil
}

func (h *Hub) resubscribe(id string, areas [][3]int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s := h.clients[id]; s != nil {
		s.filter = filterOf(areas)
	}
}

func (h *Hub) leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// send queues b for one session without blocking.
func (h *Hub) send(id string, b []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.clients[id]
	if s == nil {
		return false
	}
	select {
	case s.out <- b:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func tickMsg(res world.TickResult, filter map[grid.AreaKey]bool) (observerproto.TickMsg, bool) {
	msg := observerproto.TickMsg{
		Type:            "TICK",
		ProtocolVersion: observerproto.Version,
		Tick:            res.Tick,
		Areas:           res.Areas,
		Flips:           res.Flips,
		ActiveGates:     res.ActiveGates,
		DroppedHandoffs: res.DroppedHandoffs,
		DurationUS:      res.Duration.Microseconds(),
	}
	if res.Err != nil {
		msg.Error = res.Err.Error()
	}
	for _, k := range res.DirtyAreas {
		if filter == nil || filter[k] {
			msg.DirtyAreas = append(msg.DirtyAreas, k.ToArray())
		}
	}
	if filter != nil && len(msg.DirtyAreas) == 0 && msg.Error == "" {
		return msg, false
	}
	return msg, true
}

func (h *Hub) WriteTick(res world.TickResult) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return nil
	}
	var all []byte
	for _, s := range h.clients {
		var b []byte
		if s.filter == nil {
			if all == nil {
				msg, _ := tickMsg(res, nil)
				var err error
				if all, err = json.Marshal(msg); err != nil {
					return err
				}
			}
			b = all
		} else {
			msg, ok := tickMsg(res, s.filter)
			if !ok {
				continue
			}
			var err error
			if b, err = json.Marshal(msg); err != nil {
				return err
			}
		}
		select {
		case s.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

var _ world.Sink = (*Hub)(nil)
