package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"foodledger/internal/app"
)

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "snapshot",
		Short:         "Write a snapshot of the configured store and publish it as the latest manifest",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(rootOpts)
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, logger, app.Options{})
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open ledger", err)
			}
			defer a.Close()

			m, err := a.Snapshot(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "snapshot failed", err)
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, m, func(w io.Writer) {
				fmt.Fprintf(w, "snapshot %s last_seq=%d\n", m.SnapshotID, m.LastSeq)
			})
		},
	}
}
