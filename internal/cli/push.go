package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thoughtspace/sync/internal/engine"
	"github.com/thoughtspace/sync/internal/ids"
	"github.com/thoughtspace/sync/internal/ir"
	"github.com/thoughtspace/sync/internal/relay"
	"github.com/thoughtspace/sync/internal/store"
	"github.com/thoughtspace/sync/internal/syncclient"
)

// PushOptions holds flags for the push command.
type PushOptions struct {
	*RootOptions
	Database string
	RelayURL string
	ClientID string
}

// NewPushCommand creates the push command, which sends every
// locally-originated unsynced operation to the relay (spec.md §4.4 Push).
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push locally-originated operations to the relay",
		Long: `Send every locally-originated, not-yet-acknowledged operation to the
relay, then mark it synced with the relay-assigned sync timestamp.

Examples:
  thoughtspace push --db ./replica.db --relay ws://localhost:8787 --client alice`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(opts, cmd)
		},
	}

	addClientFlags(cmd, &opts.Database, &opts.RelayURL, &opts.ClientID)
	return cmd
}

func addClientFlags(cmd *cobra.Command, database, relayURL, clientID *string) {
	cmd.Flags().StringVar(database, "db", "", "path to local SQLite replica (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(relayURL, "relay", "", "relay websocket base URL, e.g. ws://host:port (required)")
	_ = cmd.MarkFlagRequired("relay")
	cmd.Flags().StringVar(clientID, "client", "", "this replica's client id (required)")
	_ = cmd.MarkFlagRequired("client")
}

func openCoordinator(ctx context.Context, database, relayURL, clientID string, pullChunk int) (*syncclient.Coordinator, *store.Store, *relay.WSClient, error) {
	st, err := store.Open(database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open local store: %w", err)
	}

	clock := ids.NewClock(ir.ClientID(clientID))
	eng := engine.New(st, clock)

	ws, err := relay.DialWSClient(ctx, relayURL, ir.ClientID(clientID))
	if err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("dial relay: %w", err)
	}

	coord := syncclient.New(syncclient.Options{
		Store:         st,
		Engine:        eng,
		Transport:     ws,
		ClientID:      ir.ClientID(clientID),
		PullChunkSize: pullChunk,
	})
	return coord, st, ws, nil
}

func runPush(opts *PushOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	coord, st, ws, err := openCoordinator(ctx, opts.Database, opts.RelayURL, opts.ClientID, 0)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer st.Close()
	defer ws.Close()

	syncTS, err := coord.Push(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "push failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Pushed(syncTS)
}
