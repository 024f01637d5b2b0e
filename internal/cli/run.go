package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	pl "circuitcraft.ai/internal/persistence/log"
	"circuitcraft.ai/internal/persistence/indexdb"
	"circuitcraft.ai/internal/sim/edit"
	"circuitcraft.ai/internal/sim/scenario"
	"circuitcraft.ai/internal/sim/tuning"
	"circuitcraft.ai/internal/sim/world"
)

type RunOptions struct {
	*RootOptions
	Tuning  string
	Workers int
	DataDir string
	DB      string
}

// RunResult is the --format=json payload of run.
type RunResult struct {
	RunID           string   `json:"run_id"`
	Scenario        string   `json:"scenario"`
	Passed          bool     `json:"passed"`
	Ticks           int      `json:"ticks"`
	Checked         int      `json:"checked"`
	Flips           int      `json:"flips"`
	Handoffs        int      `json:"handoffs"`
	DroppedHandoffs int      `json:"dropped_handoffs"`
	PeakActiveGates int      `json:"peak_active_gates"`
	DurationUS      int64    `json:"duration_us"`
	Failures        []string `json:"failures,omitempty"`
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.json>",
		Short: "Run a scenario and check its expectations",
		Long: `Build the scenario's areas and blocks, step the engine tick by tick,
apply toggles and breaks on their ticks and check every expectation.

Exits 1 when an expectation fails.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Tuning, "tuning", "", "tuning YAML (defaults apply when empty)")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", -1, "max parallel area workers (0 = one per area, -1 = from tuning)")
	cmd.Flags().StringVar(&opts.DataDir, "data", "", "write tick and edit logs under this directory")
	cmd.Flags().StringVar(&opts.DB, "db", "", "write a SQLite index of the run to this path")
	return cmd
}

func loadTuning(path string) (tuning.Tuning, error) {
	if path == "" {
		return tuning.Defaults(), nil
	}
	return tuning.Load(path)
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) (err error) {
	f := newFormatter(opts.RootOptions, cmd)

	s, err := scenario.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "load scenario", err)
	}
	tune, err := loadTuning(opts.Tuning)
	if err != nil {
		return WrapExitError(ExitCommandError, "load tuning", err)
	}
	cfg := world.ConfigFromTuning(tune)
	if opts.Workers >= 0 {
		cfg.MaxWorkers = opts.Workers
	}

	log := engineLogger(opts.RootOptions, cmd.ErrOrStderr())
	runID := uuid.NewString()
	w := world.New(cfg, world.WithLogger(log))
	ed := edit.New(w, nil, log)
	w.AddHook(ed)

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = errors.Join(err, closers[i]())
		}
	}()

	var tickLog *pl.TickLogger
	var auditLog *pl.AuditLogger
	if opts.DataDir != "" {
		tickLog = pl.NewTickLogger(opts.DataDir, runID)
		auditLog = pl.NewAuditLogger(opts.DataDir, runID)
		closers = append(closers, tickLog.Close, auditLog.Close)
		w.AddSink(tickLog)
	}
	var idx *indexdb.SQLiteIndex
	if opts.DB != "" {
		idx, err = indexdb.OpenSQLite(opts.DB, runID)
		if err != nil {
			return WrapExitError(ExitCommandError, "open index", err)
		}
		closers = append(closers, idx.Close)
		if err := idx.RecordRun(s.Name, tune); err != nil {
			return WrapExitError(ExitCommandError, "record run", err)
		}
		w.AddSink(idx)
	}
	var audits []edit.AuditSink
	if auditLog != nil {
		audits = append(audits, auditLog)
	}
	if idx != nil {
		audits = append(audits, idx)
	}
	ed.SetAudit(edit.Audits(audits...))

	if err := s.Build(w, ed); err != nil {
		return WrapExitError(ExitCommandError, "build scenario", err)
	}
	f.verbosef("run %s: %d areas, %d blocks, %d ticks", runID, len(s.Areas), len(s.Blocks), s.Ticks)

	rep, err := s.Run(w, ed, func(res world.TickResult) {
		f.verbosef("tick %d: flips=%d handoffs=%d dirty=%d active_gates=%d",
			res.Tick, res.Flips, res.Handoffs, len(res.DirtyAreas), res.ActiveGates)
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "run scenario", err)
	}

	res := RunResult{
		RunID:           runID,
		Scenario:        rep.Name,
		Passed:          rep.OK(),
		Ticks:           rep.Ticks,
		Checked:         rep.Checked,
		Flips:           rep.Flips,
		Handoffs:        rep.Handoffs,
		DroppedHandoffs: rep.DroppedHandoffs,
		PeakActiveGates: rep.PeakActiveGates,
		DurationUS:      rep.Duration.Microseconds(),
	}
	for _, fl := range rep.Failures {
		res.Failures = append(res.Failures, fl.String())
	}

	if f.json() {
		status := "ok"
		if !res.Passed {
			status = "error"
		}
		if err := f.writeJSON(status, res, ""); err != nil {
			return err
		}
	} else {
		printRun(f, res, rep.Duration)
	}
	if !res.Passed {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d of %d expectations failed", res.Scenario, len(res.Failures), res.Checked))
	}
	return nil
}

func printRun(f *formatter, res RunResult, took time.Duration) {
	mark := "✓"
	if !res.Passed {
		mark = "✗"
	}
	fmt.Fprintf(f.out, "%s %s: %s ticks, %d/%d expectations met\n", mark, res.Scenario,
		humanize.Comma(int64(res.Ticks)), res.Checked-len(res.Failures), res.Checked)
	fmt.Fprintf(f.out, "  flips %s, handoffs %s, peak active gates %d, took %s\n",
		humanize.Comma(int64(res.Flips)), humanize.Comma(int64(res.Handoffs)), res.PeakActiveGates,
		took.Round(time.Microsecond))
	if res.DroppedHandoffs > 0 {
		fmt.Fprintf(f.out, "  dropped handoffs %s\n", humanize.Comma(int64(res.DroppedHandoffs)))
	}
	for _, fl := range res.Failures {
		fmt.Fprintf(f.out, "  ✗ %s\n", fl)
	}
}
