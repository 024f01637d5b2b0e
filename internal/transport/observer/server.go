package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"circuitcraft.ai/internal/observerproto"
	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/encoding"
	"circuitcraft.ai/internal/sim/grid"
	"circuitcraft.ai/internal/sim/world"
)

const maxFilterAreas = 4096

// Server exposes a running world to read-only observers: an HTTP bootstrap document and
// a WebSocket stream of tick summaries fed by the Hub.
type Server struct {
	world *world.World
	hub   *Hub
	runID string
	log   logrus.FieldLogger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, hub *Hub, runID string, log logrus.FieldLogger) *Server {
	return &Server{
		world: w,
		hub:   hub,
		runID: runID,
		log:   log.WithField("component", "observer"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see below
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.world.Config()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			RunID:           s.runID,
			Params: observerproto.WorldParams{
				TickIntervalMS: cfg.TickInterval.Milliseconds(),
				AreaSize:       grid.AreaSize,
				MaxWorkers:     cfg.MaxWorkers,
			},
			Areas:        [][3]int{},
			BlockPalette: blocks.Palette(),
		}

		// The area set belongs to the world loop.
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		err := s.world.Do(ctx, func(w *world.World) error {
			resp.Tick = w.CurrentTick()
			for _, k := range w.Keys() {
				resp.Areas = append(resp.Areas, k.ToArray())
			}
			return nil
		})
		if err != nil {
			http.Error(rw, "world unavailable", http.StatusServiceUnavailable)
			return
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}
		normalizeSubscribe(&sub)

		sess, err := s.hub.join(sub.Areas)
		if err != nil {
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		defer s.hub.leave(sess.id)
		log := s.log.WithField("session", sess.id)
		log.WithField("areas", len(sub.Areas)).Debug("observer joined")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates and layer requests.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var head struct {
				Type            string `json:"type"`
				ProtocolVersion string `json:"protocol_version"`
			}
			if err := json.Unmarshal(msg, &head); err != nil || head.ProtocolVersion != observerproto.Version {
				continue
			}
			switch head.Type {
			case "SUBSCRIBE":
				var sub observerproto.SubscribeMsg
				if err := json.Unmarshal(msg, &sub); err != nil {
					continue
				}
				normalizeSubscribe(&sub)
				s.hub.resubscribe(sess.id, sub.Areas)
			case "LAYER_REQ":
				var req observerproto.LayerReqMsg
				if err := json.Unmarshal(msg, &req); err != nil {
					continue
				}
				b, err := s.layer(ctx, req)
				if err != nil {
					b, _ = json.Marshal(observerproto.ErrorMsg{
						Type:            "ERROR",
						ProtocolVersion: observerproto.Version,
						Message:         err.Error(),
					})
				}
				// Drop under load; the client may resend.
				s.hub.send(sess.id, b)
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Debug("observer left")
	}
}

var errBadLayer = errors.New("layer out of range")

// layer reads one Y slice of an area on the world loop.
func (s *Server) layer(ctx context.Context, req observerproto.LayerReqMsg) ([]byte, error) {
	if req.Y < 0 || req.Y >= grid.AreaSize {
		return nil, errBadLayer
	}
	key := grid.AreaKey{X: req.Area[0], Y: req.Area[1], Z: req.Area[2]}
	msg := observerproto.LayerMsg{
		Type:            "LAYER",
		ProtocolVersion: observerproto.Version,
		Area:            req.Area,
		Y:               req.Y,
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := s.world.Do(ctx, func(w *world.World) error {
		a, ok := w.Area(key)
		if !ok {
			return world.ErrAreaNotLoaded
		}
		msg.Tick = w.CurrentTick()
		cells := make([]encoding.Cell, 0, grid.AreaSize*grid.AreaSize)
		for z := 0; z < grid.AreaSize; z++ {
			for x := 0; x < grid.AreaSize; x++ {
				l := grid.Vec3i{X: x, Y: req.Y, Z: z}
				cells = append(cells, encoding.Cell{Type: a.Type(l), On: a.State(l)})
			}
		}
		msg.CellsRLE = encoding.EncodeCells(cells)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if len(sub.Areas) > maxFilterAreas {
		sub.Areas = sub.Areas[:maxFilterAreas]
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
