package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	pl "circuitcraft.ai/internal/persistence/log"
	"circuitcraft.ai/internal/sim/scenario"
	"circuitcraft.ai/internal/sim/world"
)

type ReplayOptions struct {
	*RootOptions
	DataDir string
	RunID   string
	Workers int
}

type ReplayResult struct {
	RunID   string `json:"run_id"`
	Checked int    `json:"checked"`
	OK      bool   `json:"ok"`
	// Mismatch describes the first diverging tick.
	Mismatch string `json:"mismatch,omitempty"`
}

func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.json>",
		Short: "Re-run a scenario and compare it with a recorded tick log",
		Long: `Re-run the scenario and check every tick against the tick log written by
"run --data": digest, flips, active gates and dirty area count must match.

Exits 1 on the first diverging tick.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&opts.DataDir, "data", "", "data directory holding events/ (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to check (default: the first run in the log)")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "max parallel area workers for the re-run (0 = one per area)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	s, err := scenario.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "load scenario", err)
	}

	runID := opts.RunID
	var logged []pl.TickEntry
	err = pl.ReadTickEntries(opts.DataDir, func(e pl.TickEntry) error {
		if runID == "" {
			runID = e.RunID
		}
		if e.RunID == runID {
			logged = append(logged, e)
		}
		return nil
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "read tick log", err)
	}
	if len(logged) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no ticks logged for run %q", runID))
	}
	f.verbosef("replaying %d logged ticks of run %s", len(logged), runID)

	cfg := world.DefaultConfig()
	cfg.MaxWorkers = opts.Workers
	w, ed, err := s.NewWorld(cfg, engineLogger(opts.RootOptions, cmd.ErrOrStderr()))
	if err != nil {
		return WrapExitError(ExitCommandError, "build scenario", err)
	}
	var got []world.TickResult
	if _, err := s.Run(w, ed, func(res world.TickResult) { got = append(got, res) }); err != nil {
		return WrapExitError(ExitCommandError, "run scenario", err)
	}

	res := ReplayResult{RunID: runID, OK: true}
	for _, want := range logged {
		if want.Tick == 0 || want.Tick > uint64(len(got)) {
			res.OK = false
			res.Mismatch = fmt.Sprintf("tick %d is outside the scenario's %d ticks", want.Tick, len(got))
			break
		}
		if m := compareTick(want, got[want.Tick-1]); m != "" {
			res.OK = false
			res.Mismatch = m
			break
		}
		res.Checked++
	}

	if f.json() {
		status := "ok"
		if !res.OK {
			status = "error"
		}
		if err := f.writeJSON(status, res, res.Mismatch); err != nil {
			return err
		}
	} else if res.OK {
		fmt.Fprintf(f.out, "replay ok: checked=%d ticks run=%s\n", res.Checked, res.RunID)
	} else {
		fmt.Fprintf(f.out, "replay diverged after %d ticks: %s\n", res.Checked, res.Mismatch)
	}
	if !res.OK {
		return NewExitError(ExitFailure, res.Mismatch)
	}
	return nil
}

func compareTick(want pl.TickEntry, got world.TickResult) string {
	switch {
	case want.Digest != pl.FormatDigest(got.Digest):
		return fmt.Sprintf("digest mismatch at tick %d: got=%s want=%s", want.Tick, pl.FormatDigest(got.Digest), want.Digest)
	case want.Flips != got.Flips:
		return fmt.Sprintf("flips mismatch at tick %d: got=%d want=%d", want.Tick, got.Flips, want.Flips)
	case want.ActiveGates != got.ActiveGates:
		return fmt.Sprintf("active gates mismatch at tick %d: got=%d want=%d", want.Tick, got.ActiveGates, want.ActiveGates)
	case len(want.DirtyAreas) != len(got.DirtyAreas):
		return fmt.Sprintf("dirty areas mismatch at tick %d: got=%d want=%d", want.Tick, len(got.DirtyAreas), len(want.DirtyAreas))
	}
	return ""
}
