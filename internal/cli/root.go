// Package cli implements circuitctl, the offline scenario tool.
package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "circuitctl",
		Short: "circuitctl - run and inspect circuit scenarios",
		Long:  "Offline tool for the chunked circuit engine: runs scenario files, validates them and renders layers.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRenderCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewIndexCommand(opts))
	return cmd
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *formatter {
	return &formatter{
		format:  opts.Format,
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
		verbose: opts.Verbose,
	}
}

// engineLogger keeps engine logs on stderr and quiet unless --verbose.
func engineLogger(opts *RootOptions, w io.Writer) logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.WarnLevel)
	if opts.Verbose {
		l.SetLevel(logrus.InfoLevel)
	}
	return l.WithField("component", "circuitctl")
}
