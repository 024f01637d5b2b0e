package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"circuitcraft.ai/internal/persistence/indexdb"
)

type IndexOptions struct {
	*RootOptions
	RunID string
	Limit int
}

var indexQueries = []string{"runs", "ticks", "hot", "edits"}

func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "index <db> [runs|ticks|hot|edits]",
		Short: "Query a SQLite run index",
		Long: `Query an index written by "run --db" or the server.

  runs   recorded runs, newest first (default)
  ticks  the last ticks of a run, newest first
  hot    areas ranked by the number of ticks that changed them
  edits  block edits of a run in application order

ticks, hot and edits use --run, or the latest run when it is empty.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := "runs"
			if len(args) == 2 {
				q = args[1]
			}
			return runIndex(opts, args[0], q, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "result limit")
	return cmd
}

func runIndex(opts *IndexOptions, path, q string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	r, err := indexdb.OpenReader(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open index", err)
	}
	defer r.Close()

	runID := opts.RunID
	if runID == "" && q != "runs" {
		if runID, err = r.LatestRun(); err != nil {
			return WrapExitError(ExitCommandError, "latest run", err)
		}
		if runID == "" {
			return NewExitError(ExitCommandError, "index holds no runs")
		}
		f.verbosef("using latest run %s", runID)
	}

	tw := tabwriter.NewWriter(f.out, 0, 4, 2, ' ', 0)
	var data any
	switch q {
	case "runs":
		rows, err := r.Runs(opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "query", err)
		}
		data = rows
		fmt.Fprintln(tw, "RUN\tSCENARIO\tSTARTED\tTICKS\tERRORS")
		for _, row := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", row.RunID, row.Scenario, row.StartedAt, humanize.Comma(int64(row.Ticks)), row.Errors)
		}
	case "ticks":
		rows, err := r.Ticks(runID, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "query", err)
		}
		data = rows
		fmt.Fprintln(tw, "TICK\tDIRTY\tFLIPS\tHANDOFFS\tGATES\tDIGEST\tERROR")
		for _, row := range rows {
			fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%s\t%s\n", row.Tick, row.Dirty, humanize.Comma(int64(row.Flips)), row.Handoffs, row.ActiveGates, row.Digest, row.Error)
		}
	case "hot":
		rows, err := r.HotAreas(runID, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "query", err)
		}
		data = rows
		fmt.Fprintln(tw, "AREA\tDIRTY TICKS")
		for _, row := range rows {
			fmt.Fprintf(tw, "%d,%d,%d\t%d\n", row.Area[0], row.Area[1], row.Area[2], row.DirtyTicks)
		}
	case "edits":
		rows, err := r.Edits(runID, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "query", err)
		}
		data = rows
		fmt.Fprintln(tw, "TICK\tACTION\tPOS\tFROM\tTO")
		for _, row := range rows {
			fmt.Fprintf(tw, "%d\t%s\t%d,%d,%d\t%s\t%s\n", row.Tick, row.Action, row.Pos[0], row.Pos[1], row.Pos[2], row.From, row.To)
		}
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown query %q: must be one of %v", q, indexQueries))
	}

	if f.json() {
		return f.writeJSON("ok", data, "")
	}
	return tw.Flush()
}
