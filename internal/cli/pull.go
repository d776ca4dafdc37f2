package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// PullOptions holds flags for the pull command.
type PullOptions struct {
	*RootOptions
	Database  string
	RelayURL  string
	ClientID  string
	PullChunk int
}

// NewPullCommand creates the pull command, which runs the Sync
// Coordinator's connect sequence (hydrate-or-catch-up, then push) and
// exits once Live (spec.md §4.4).
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PullOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Catch up (or hydrate) this replica from the relay",
		Long: `Connect to the relay and bring the local replica up to date: hydrate
from a snapshot if this replica has never synced, otherwise pull every
operation since the local cursor, then push any locally-originated
operations before exiting.

Examples:
  thoughtspace pull --db ./replica.db --relay ws://localhost:8787 --client alice`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(opts, cmd)
		},
	}

	addClientFlags(cmd, &opts.Database, &opts.RelayURL, &opts.ClientID)
	cmd.Flags().IntVar(&opts.PullChunk, "pull-chunk-size", 1000, "operations applied per engine batch during catch-up")

	return cmd
}

func runPull(opts *PullOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	coord, st, ws, err := openCoordinator(ctx, opts.Database, opts.RelayURL, opts.ClientID, opts.PullChunk)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer st.Close()
	defer ws.Close()

	if err := coord.Connect(ctx); err != nil {
		return WrapExitError(ExitCommandError, "sync failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.SyncState(coord.State())
}
