package main

import (
	"fmt"
	"io"

	"circuitcraft.ai/internal/persistence/indexdb"
	"circuitcraft.ai/internal/sim/world"
	"circuitcraft.ai/internal/transport/observer"
)

// writeMetrics renders the Prometheus text exposition. hub and idx may be nil.
func writeMetrics(out io.Writer, st world.Stats, hub *observer.Hub, idx *indexdb.SQLiteIndex) {
	gauge := func(name, help string, v any) {
		fmt.Fprintf(out, "# HELP %s %s\n", name, help)
		fmt.Fprintf(out, "# TYPE %s gauge\n", name)
		fmt.Fprintf(out, "%s %v\n", name, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(out, "# HELP %s %s\n", name, help)
		fmt.Fprintf(out, "# TYPE %s counter\n", name)
		fmt.Fprintf(out, "%s %d\n", name, v)
	}

	gauge("circuit_tick", "Last completed tick.", st.Tick)
	gauge("circuit_areas", "Loaded area count.", st.Areas)
	gauge("circuit_active_gates", "Gates whose output was on after the last tick.", st.ActiveGates)
	gauge("circuit_last_tick_ms", "Duration of the last tick in milliseconds.", fmt.Sprintf("%.3f", float64(st.LastTick.Microseconds())/1000))
	counter("circuit_tick_errors_total", "Ticks that returned an error.", st.TickErrors)

	if hub != nil {
		gauge("circuit_observer_clients", "Connected observer sessions.", hub.Clients())
		counter("circuit_observer_dropped_total", "Observer messages dropped on full session queues.", hub.Dropped())
	}
	if idx != nil {
		s := idx.Stats()
		gauge("circuit_index_queue_depth", "SQLite index writer backlog.", s.QueueDepth)
		counter("circuit_index_dropped_ticks_total", "Tick rows dropped because the index queue was full.", s.DropTickTotal)
		counter("circuit_index_dropped_edits_total", "Edit rows dropped because the index queue was full.", s.DropEditTotal)
	}
}
