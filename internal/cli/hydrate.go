package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// HydrateOptions holds flags for the hydrate command.
type HydrateOptions struct {
	*RootOptions
	Database string
	RelayURL string
	ClientID string
}

// NewHydrateCommand creates the hydrate command, which unconditionally
// requests a full snapshot from the relay regardless of local cursor
// state (spec.md §4.4 Hydrate) - useful for rebuilding a corrupted or
// discarded local replica.
func NewHydrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HydrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hydrate",
		Short: "Force a full snapshot hydration from the relay",
		Long: `Request the relay's binary snapshot unconditionally and write its rows
directly into the local store, bypassing the CRDT engine (spec.md §4.4
Hydrate). Use this to rebuild a replica from scratch.

Examples:
  thoughtspace hydrate --db ./replica.db --relay ws://localhost:8787 --client alice`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHydrate(opts, cmd)
		},
	}

	addClientFlags(cmd, &opts.Database, &opts.RelayURL, &opts.ClientID)
	return cmd
}

func runHydrate(opts *HydrateOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	coord, st, ws, err := openCoordinator(ctx, opts.Database, opts.RelayURL, opts.ClientID, 0)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer st.Close()
	defer ws.Close()

	if err := coord.Hydrate(ctx); err != nil {
		return WrapExitError(ExitCommandError, "hydration failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(map[string]any{"hydrated": true})
}
