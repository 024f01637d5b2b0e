package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"circuitcraft.ai/internal/sim/edit"
	"circuitcraft.ai/internal/sim/tuning"
	"circuitcraft.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of a run: one row per tick, the areas each tick
// dirtied, and the edits applied between ticks. Writes are queued and applied by a single
// writer goroutine; the JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTicks atomic.Uint64
	dropEdits atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqEdit
)

type req struct {
	kind reqKind
	tick world.TickResult
	edit edit.Record
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropTickTotal uint64
	DropEditTotal uint64
}

func OpenSQLite(path, runID string) (*SQLiteIndex, error) {
	return openSQLite(path, runID, 65536)
}

func openSQLite(path, runID string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if runID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: runID,
		ch:    make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			scenario TEXT NOT NULL,
			tuning_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			areas INTEGER NOT NULL,
			dirty INTEGER NOT NULL,
			flips INTEGER NOT NULL,
			handoffs INTEGER NOT NULL,
			dropped_handoffs INTEGER NOT NULL,
			active_gates INTEGER NOT NULL,
			digest TEXT NOT NULL,
			duration_us INTEGER NOT NULL,
			error TEXT,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS dirty_areas (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			ax INTEGER NOT NULL,
			ay INTEGER NOT NULL,
			az INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, ax, ay, az)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dirty_areas_area ON dirty_areas(ax, az, ay, tick);`,
		`CREATE TABLE IF NOT EXISTS edits (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			action TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			from_block TEXT NOT NULL,
			to_block TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_pos_tick ON edits(x, z, y, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun stores the run header. It runs synchronously, before any tick is queued.
func (s *SQLiteIndex) RecordRun(scenario string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO runs(run_id,started_at,scenario,tuning_json) VALUES(?,?,?,?)`,
		s.runID, time.Now().UTC().Format(time.RFC3339Nano), scenario, string(b)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteTick queues a tick row. It never blocks the world loop: when the writer falls
// behind the row is dropped and counted.
func (s *SQLiteIndex) WriteTick(res world.TickResult) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: res}:
	default:
		s.dropTicks.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteEdit(r edit.Record) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEdit, edit: r}:
	default:
		s.dropEdits.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTickTotal: s.dropTicks.Load(),
		DropEditTotal: s.dropEdits.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,areas,dirty,flips,handoffs,dropped_handoffs,active_gates,digest,duration_us,error) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertDirty, _ := s.db.Prepare(`INSERT OR REPLACE INTO dirty_areas(run_id,tick,ax,ay,az) VALUES(?,?,?,?,?)`)
	insertEdit, _ := s.db.Prepare(`INSERT OR REPLACE INTO edits(run_id,tick,seq,action,x,y,z,from_block,to_block,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertDirty, insertEdit} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastEditTick uint64
		editSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			var errText any
			if t.Err != nil {
				errText = t.Err.Error()
			}
			if !exec(insertTick, s.runID, int64(t.Tick), t.Areas, len(t.DirtyAreas), t.Flips, t.Handoffs,
				t.DroppedHandoffs, t.ActiveGates, fmt.Sprintf("%016x", t.Digest), t.Duration.Microseconds(), errText) {
				continue
			}
			for _, k := range t.DirtyAreas {
				if !exec(insertDirty, s.runID, int64(t.Tick), k.X, k.Y, k.Z) {
					break
				}
			}

		case reqEdit:
			e := r.edit
			if e.Tick != lastEditTick {
				lastEditTick = e.Tick
				editSeq = 0
			}
			seq := editSeq
			editSeq++
			raw, _ := json.Marshal(e)
			exec(insertEdit, s.runID, int64(e.Tick), seq, e.Action, e.Pos[0], e.Pos[1], e.Pos[2], e.From, e.To, string(raw))
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

var (
	_ world.Sink     = (*SQLiteIndex)(nil)
	_ edit.AuditSink = (*SQLiteIndex)(nil)
)
