package indexdb

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"circuitcraft.ai/internal/sim/edit"
	"circuitcraft.ai/internal/sim/grid"
	"circuitcraft.ai/internal/sim/tuning"
	"circuitcraft.ai/internal/sim/world"
)

func TestSQLiteIndexRecordsRunTicksAndEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "circuit.sqlite")
	s, err := OpenSQLite(path, "run-a")
	require.NoError(t, err)
	require.NoError(t, s.RecordRun("and_gate", tuning.Defaults()))

	require.NoError(t, s.WriteEdit(edit.Record{Tick: 1, Action: "PLACE", Pos: [3]int{1, 2, 3}, From: "AIR", To: "WIRE"}))
	require.NoError(t, s.WriteEdit(edit.Record{Tick: 1, Action: "PLACE", Pos: [3]int{2, 2, 3}, From: "AIR", To: "LAMP"}))
	require.NoError(t, s.WriteTick(world.TickResult{
		Tick:        1,
		Areas:       2,
		DirtyAreas:  []grid.AreaKey{{}, {X: 1}},
		Flips:       7,
		ActiveGates: 1,
		Duration:    2 * time.Millisecond,
	}))
	require.NoError(t, s.WriteTick(world.TickResult{Tick: 2, Areas: 2, Err: errors.New("boom")}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")
	require.NoError(t, s.WriteTick(world.TickResult{Tick: 3}), "writes after close are ignored")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var scenario string
	require.NoError(t, db.QueryRow(`SELECT scenario FROM runs WHERE run_id='run-a'`).Scan(&scenario))
	assert.Equal(t, "and_gate", scenario)

	var ticks, flips int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*), SUM(flips) FROM ticks WHERE run_id='run-a'`).Scan(&ticks, &flips))
	assert.Equal(t, 2, ticks)
	assert.Equal(t, 7, flips)

	var errText sql.NullString
	require.NoError(t, db.QueryRow(`SELECT error FROM ticks WHERE run_id='run-a' AND tick=2`).Scan(&errText))
	assert.Equal(t, "boom", errText.String)
	require.NoError(t, db.QueryRow(`SELECT error FROM ticks WHERE run_id='run-a' AND tick=1`).Scan(&errText))
	assert.False(t, errText.Valid)

	var dirty int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM dirty_areas WHERE run_id='run-a' AND tick=1`).Scan(&dirty))
	assert.Equal(t, 2, dirty)

	var seqMax int
	require.NoError(t, db.QueryRow(`SELECT MAX(seq) FROM edits WHERE run_id='run-a' AND tick=1`).Scan(&seqMax))
	assert.Equal(t, 1, seqMax)
}

func TestSQLiteIndexQueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick}

	_ = s.WriteTick(world.TickResult{Tick: 2})
	_ = s.WriteEdit(edit.Record{Tick: 2})

	st := s.Stats()
	assert.Equal(t, Stats{QueueDepth: 1, QueueCapacity: 1, DropTickTotal: 1, DropEditTotal: 1}, st)
}

func TestOpenSQLiteRejectsEmptyArgs(t *testing.T) {
	_, err := OpenSQLite("", "r")
	assert.Error(t, err)
	_, err = OpenSQLite(filepath.Join(t.TempDir(), "x.sqlite"), "")
	assert.Error(t, err)
}
