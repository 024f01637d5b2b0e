package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"circuitcraft.ai/internal/sim/scenario"
)

type FileResult struct {
	Path  string `json:"path"`
	Valid bool   `json:"valid"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

type ValidationResult struct {
	Valid bool         `json:"valid"`
	Files []FileResult `json:"files"`
}

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "validate <scenario.json>...",
		Short:         "Validate scenario files without running them",
		Long:          "Check each scenario against the scenario schema and its cross-field rules.",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	res := ValidationResult{Valid: true}
	for _, p := range paths {
		fr := FileResult{Path: p, Valid: true}
		s, err := scenario.Load(p)
		if err != nil {
			fr.Valid = false
			fr.Error = err.Error()
			res.Valid = false
		} else {
			fr.Name = s.Name
			f.verbosef("%s: %d areas, %d blocks, %d ticks", p, len(s.Areas), len(s.Blocks), s.Ticks)
		}
		res.Files = append(res.Files, fr)
	}

	if f.json() {
		status := "ok"
		if !res.Valid {
			status = "error"
		}
		if err := f.writeJSON(status, res, ""); err != nil {
			return err
		}
	} else {
		for _, fr := range res.Files {
			if fr.Valid {
				fmt.Fprintf(f.out, "✓ %s (%s)\n", fr.Path, fr.Name)
			} else {
				fmt.Fprintf(f.out, "✗ %s\n  %s\n", fr.Path, fr.Error)
			}
		}
	}
	if !res.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}
