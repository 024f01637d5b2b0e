package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circuitcraft.ai/internal/observerproto"
	"circuitcraft.ai/internal/sim/blocks"
	"circuitcraft.ai/internal/sim/edit"
	"circuitcraft.ai/internal/sim/encoding"
	"circuitcraft.ai/internal/sim/grid"
	"circuitcraft.ai/internal/sim/world"
)

type fixture struct {
	w   *world.World
	hub *Hub
	srv *httptest.Server
}

func newFixture(t *testing.T, maxClients int) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	// Long interval: ticks in these tests are injected through the hub.
	w := world.New(world.Config{TickInterval: time.Hour, FrameRateHz: 100})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ed := edit.New(w, nil, log)
	err := w.Do(ctx, func(w *world.World) error {
		if _, err := w.LoadArea(grid.AreaKey{}); err != nil {
			return err
		}
		return ed.Place(grid.Vec3i{X: 3, Y: 0, Z: 4}, blocks.WireOff, blocks.East)
	})
	require.NoError(t, err)

	hub := NewHub(maxClients, 8, log)
	s := NewServer(w, hub, "run-1", log)
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{w: w, hub: hub, srv: srv}
}

func (f *fixture) dial(t *testing.T, areas [][3]int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		Areas:           areas,
	}))
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t, 4)

	resp, err := http.Get(f.srv.URL + "/observer/bootstrap")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var boot observerproto.BootstrapResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&boot))
	assert.Equal(t, observerproto.Version, boot.ProtocolVersion)
	assert.Equal(t, "run-1", boot.RunID)
	assert.Equal(t, [][3]int{{0, 0, 0}}, boot.Areas)
	assert.Equal(t, grid.AreaSize, boot.Params.AreaSize)
	assert.Equal(t, int64(time.Hour/time.Millisecond), boot.Params.TickIntervalMS)
	assert.Contains(t, boot.BlockPalette, "WIRE_ON")
}

func TestBootstrapRejectsPost(t *testing.T) {
	f := newFixture(t, 4)
	resp, err := http.Post(f.srv.URL+"/observer/bootstrap", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStreamsTicks(t *testing.T) {
	f := newFixture(t, 4)
	conn := f.dial(t, nil)
	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.hub.WriteTick(world.TickResult{
		Tick:        7,
		Areas:       1,
		Flips:       3,
		DirtyAreas:  []grid.AreaKey{{}},
		ActiveGates: 2,
	}))

	var msg observerproto.TickMsg
	readJSON(t, conn, &msg)
	assert.Equal(t, "TICK", msg.Type)
	assert.Equal(t, uint64(7), msg.Tick)
	assert.Equal(t, 3, msg.Flips)
	assert.Equal(t, 2, msg.ActiveGates)
	assert.Equal(t, [][3]int{{0, 0, 0}}, msg.DirtyAreas)
}

func TestFilteredSessionSkipsQuietTicks(t *testing.T) {
	f := newFixture(t, 4)
	conn := f.dial(t, [][3]int{{5, 0, 5}})
	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.hub.WriteTick(world.TickResult{Tick: 1, DirtyAreas: []grid.AreaKey{{}}}))
	require.NoError(t, f.hub.WriteTick(world.TickResult{Tick: 2, DirtyAreas: []grid.AreaKey{{}, {X: 5, Z: 5}}}))

	var msg observerproto.TickMsg
	readJSON(t, conn, &msg)
	assert.Equal(t, uint64(2), msg.Tick)
	assert.Equal(t, [][3]int{{5, 0, 5}}, msg.DirtyAreas)
}

func TestLayerRequest(t *testing.T) {
	f := newFixture(t, 4)
	conn := f.dial(t, [][3]int{{9, 9, 9}})

	require.NoError(t, conn.WriteJSON(observerproto.LayerReqMsg{
		Type:            "LAYER_REQ",
		ProtocolVersion: observerproto.Version,
		Area:            [3]int{0, 0, 0},
		Y:               0,
	}))
	var layer observerproto.LayerMsg
	readJSON(t, conn, &layer)
	assert.Equal(t, "LAYER", layer.Type)
	cells, err := encoding.DecodeCells(layer.CellsRLE, grid.AreaSize*grid.AreaSize)
	require.NoError(t, err)
	require.Len(t, cells, grid.AreaSize*grid.AreaSize)
	assert.Equal(t, encoding.Cell{Type: blocks.WireOff}, cells[3+4*grid.AreaSize])
	assert.Equal(t, encoding.Cell{Type: blocks.Air}, cells[0])

	require.NoError(t, conn.WriteJSON(observerproto.LayerReqMsg{
		Type:            "LAYER_REQ",
		ProtocolVersion: observerproto.Version,
		Area:            [3]int{1, 0, 0},
	}))
	var em observerproto.ErrorMsg
	readJSON(t, conn, &em)
	assert.Equal(t, "ERROR", em.Type)
	assert.Contains(t, em.Message, "not loaded")
}

func TestHandshakeMustSubscribe(t *testing.T) {
	f := newFixture(t, 4)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "HELLO", "protocol_version": observerproto.Version}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestHubLimits(t *testing.T) {
	log, _ := test.NewNullLogger()
	hub := NewHub(1, 1, log)

	s, err := hub.join(nil)
	require.NoError(t, err)
	_, err = hub.join(nil)
	assert.ErrorIs(t, err, ErrHubFull)

	require.NoError(t, hub.WriteTick(world.TickResult{Tick: 1}))
	require.NoError(t, hub.WriteTick(world.TickResult{Tick: 2}))
	assert.Equal(t, uint64(1), hub.Dropped())
	assert.Len(t, s.out, 1)

	hub.leave(s.id)
	assert.Equal(t, 0, hub.Clients())
	_, err = hub.join(nil)
	assert.NoError(t, err)
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"localhost:80":   false,
		"garbage":        false,
	}
	for in, want := range cases {
		assert.Equal(t, want, isLoopbackRemote(in), in)
	}
}
