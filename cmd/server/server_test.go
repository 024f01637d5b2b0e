package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circuitcraft.ai/internal/persistence/indexdb"
	"circuitcraft.ai/internal/sim/world"
	"circuitcraft.ai/internal/transport/observer"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger("json", "debug", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	l.WithField("component", "world").Info("hello")
	assert.Contains(t, buf.String(), `"component":"world"`)

	_, err = newLogger("xml", "info", &buf)
	assert.Error(t, err)
	_, err = newLogger("text", "loud", &buf)
	assert.Error(t, err)
}

func TestWriteMetrics(t *testing.T) {
	log, _ := test.NewNullLogger()
	hub := observer.NewHub(4, 4, log)
	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "m.sqlite"), "run-m")
	require.NoError(t, err)
	defer idx.Close()

	var buf bytes.Buffer
	writeMetrics(&buf, world.Stats{Tick: 42, Areas: 9, ActiveGates: 3, LastTick: 1500 * time.Microsecond, TickErrors: 1}, hub, idx)
	out := buf.String()

	for _, line := range []string{
		"circuit_tick 42",
		"circuit_areas 9",
		"circuit_active_gates 3",
		"circuit_last_tick_ms 1.500",
		"circuit_tick_errors_total 1",
		"# TYPE circuit_tick_errors_total counter",
		"circuit_observer_clients 0",
		"circuit_index_queue_depth 0",
	} {
		assert.Contains(t, out, line+"\n")
	}
}

func TestMuxServesHealthAndMetrics(t *testing.T) {
	log, _ := test.NewNullLogger()
	w := world.New(world.DefaultConfig())
	hub := observer.NewHub(1, 1, log)
	srv := httptest.NewServer(newMux(w, hub, nil, "run-x", log))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	assert.Contains(t, string(body), "circuit_tick 0\n")
	assert.NotContains(t, string(body), "circuit_index_")
}
