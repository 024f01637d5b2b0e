package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"circuitcraft.ai/internal/sim/edit"
	"circuitcraft.ai/internal/sim/world"
)

// JSONLZstdWriter appends JSON lines to zstd files rotated every UTC hour. Each line is
// flushed through the encoder so a reader sees complete frames without waiting for Close.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	p := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.w != nil {
		err = w.w.Flush()
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickEntry is one line of the tick log.
type TickEntry struct {
	RunID           string   `json:"run_id"`
	Tick            uint64   `json:"tick"`
	Areas           int      `json:"areas"`
	DirtyAreas      [][3]int `json:"dirty_areas,omitempty"`
	Flips           int      `json:"flips"`
	Handoffs        int      `json:"handoffs,omitempty"`
	DroppedHandoffs int      `json:"dropped_handoffs,omitempty"`
	ActiveGates     int      `json:"active_gates"`
	Digest          string   `json:"digest"`
	DurationUS      int64    `json:"duration_us"`
	Error           string   `json:"error,omitempty"`
}

func NewTickEntry(runID string, res world.TickResult) TickEntry {
	e := TickEntry{
		RunID:           runID,
		Tick:            res.Tick,
		Areas:           res.Areas,
		Flips:           res.Flips,
		Handoffs:        res.Handoffs,
		DroppedHandoffs: res.DroppedHandoffs,
		ActiveGates:     res.ActiveGates,
		Digest:          FormatDigest(res.Digest),
		DurationUS:      res.Duration.Microseconds(),
	}
	for _, k := range res.DirtyAreas {
		e.DirtyAreas = append(e.DirtyAreas, k.ToArray())
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	return e
}

// TickLogger writes one JSONL entry per tick (compressed). It is a world.Sink.
type TickLogger struct {
	runID string
	w     *JSONLZstdWriter
}

func NewTickLogger(dataDir, runID string) *TickLogger {
	return &TickLogger{runID: runID, w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events")}
}

func (l *TickLogger) WriteTick(res world.TickResult) error {
	return l.w.Write(NewTickEntry(l.runID, res))
}

func (l *TickLogger) Close() error { return l.w.Close() }

// AuditLogger writes block edits as JSONL entries (compressed). It is an edit.AuditSink.
type AuditLogger struct {
	runID string
	w     *JSONLZstdWriter
}

type auditLine struct {
	RunID string `json:"run_id"`
	edit.Record
}

func NewAuditLogger(dataDir, runID string) *AuditLogger {
	return &AuditLogger{runID: runID, w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteEdit(r edit.Record) error {
	return l.w.Write(auditLine{RunID: l.runID, Record: r})
}

func (l *AuditLogger) Close() error { return l.w.Close() }

var (
	_ world.Sink     = (*TickLogger)(nil)
	_ edit.AuditSink = (*AuditLogger)(nil)
)
