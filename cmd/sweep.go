package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/listfill/internal/diagnostics"
	"github.com/xkilldash9x/listfill/internal/observability"
)

// sweepFs is the filesystem the sweep command works on.
var sweepFs = afero.NewOsFs

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deletes leftover diagnostic screenshots without running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			sweeper := diagnostics.NewSweeper(sweepFs(), observability.GetLogger())
			removed, err := sweeper.Sweep(cfg.Run.DiagnosticsDir, cfg.Run.DiagnosticsPattern)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d file(s).\n", len(removed))
			return err
		},
	}
}
