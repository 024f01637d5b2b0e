package indexdb

import (
	"database/sql"
	"fmt"
	"os"
)

// Reader answers the questions operators ask of a recorded index. It only issues SELECTs
// and refuses to create a missing database.
type Reader struct {
	db *sql.DB
}

type RunRow struct {
	RunID     string `json:"run_id"`
	StartedAt string `json:"started_at"`
	Scenario  string `json:"scenario"`
	Ticks     int    `json:"ticks"`
	Errors    int    `json:"errors"`
}

type TickRow struct {
	Tick            int64  `json:"tick"`
	Areas           int    `json:"areas"`
	Dirty           int    `json:"dirty"`
	Flips           int    `json:"flips"`
	Handoffs        int    `json:"handoffs"`
	DroppedHandoffs int    `json:"dropped_handoffs"`
	ActiveGates     int    `json:"active_gates"`
	Digest          string `json:"digest"`
	DurationUS      int64  `json:"duration_us"`
	Error           string `json:"error,omitempty"`
}

// AreaHeat counts the ticks in which an area changed.
type AreaHeat struct {
	Area       [3]int `json:"area"`
	DirtyTicks int    `json:"dirty_ticks"`
}

type EditRow struct {
	Tick   int64  `json:"tick"`
	Seq    int    `json:"seq"`
	Action string `json:"action"`
	Pos    [3]int `json:"pos"`
	From   string `json:"from"`
	To     string `json:"to"`
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// LatestRun returns the most recently started run id, or "" when there is none.
func (r *Reader) LatestRun() (string, error) {
	var id string
	err := r.db.QueryRow(`SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

func (r *Reader) Runs(limit int) ([]RunRow, error) {
	rows, err := r.db.Query(`
		SELECT r.run_id, r.started_at, r.scenario,
		       COUNT(t.tick), COALESCE(SUM(CASE WHEN t.error IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM runs r LEFT JOIN ticks t ON t.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []RunRow
	for rows.Next() {
		var row RunRow
		if err := rows.Scan(&row.RunID, &row.StartedAt, &row.Scenario, &row.Ticks, &row.Errors); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Ticks returns the last limit ticks of a run, newest first.
func (r *Reader) Ticks(runID string, limit int) ([]TickRow, error) {
	rows, err := r.db.Query(`
		SELECT tick, areas, dirty, flips, handoffs, dropped_handoffs, active_gates, digest, duration_us, error
		FROM ticks WHERE run_id = ?
		ORDER BY tick DESC
		LIMIT ?`, runID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()
	var out []TickRow
	for rows.Next() {
		var row TickRow
		var errText sql.NullString
		if err := rows.Scan(&row.Tick, &row.Areas, &row.Dirty, &row.Flips, &row.Handoffs, &row.DroppedHandoffs,
			&row.ActiveGates, &row.Digest, &row.DurationUS, &errText); err != nil {
			return nil, err
		}
		row.Error = errText.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// HotAreas ranks areas by the number of ticks that changed them; ties go to the lower key.
func (r *Reader) HotAreas(runID string, limit int) ([]AreaHeat, error) {
	rows, err := r.db.Query(`
		SELECT ax, ay, az, COUNT(*) AS n
		FROM dirty_areas WHERE run_id = ?
		GROUP BY ax, ay, az
		ORDER BY n DESC, ax, az, ay
		LIMIT ?`, runID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query hot areas: %w", err)
	}
	defer rows.Close()
	var out []AreaHeat
	for rows.Next() {
		var h AreaHeat
		if err := rows.Scan(&h.Area[0], &h.Area[1], &h.Area[2], &h.DirtyTicks); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Edits returns the edits of a run in application order.
func (r *Reader) Edits(runID string, limit int) ([]EditRow, error) {
	rows, err := r.db.Query(`
		SELECT tick, seq, action, x, y, z, from_block, to_block
		FROM edits WHERE run_id = ?
		ORDER BY tick, seq
		LIMIT ?`, runID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query edits: %w", err)
	}
	defer rows.Close()
	var out []EditRow
	for rows.Next() {
		var e EditRow
		if err := rows.Scan(&e.Tick, &e.Seq, &e.Action, &e.Pos[0], &e.Pos[1], &e.Pos[2], &e.From, &e.To); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func clampLimit(n int) int {
	if n <= 0 {
		return 20
	}
	if n > 10000 {
		return 10000
	}
	return n
}
