package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/thoughtspace/sync/internal/ir"
	"github.com/thoughtspace/sync/internal/relay"
)

// SubtreeOptions holds flags for the subtree command.
type SubtreeOptions struct {
	*RootOptions
	RelayURL string
	ClientID string
	Root     string
	Depth    int
}

// NewSubtreeCommand creates the subtree command, a direct query against
// the relay for nodes reachable downward from a root (spec.md §4.5).
func NewSubtreeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubtreeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "subtree",
		Short: "Query the relay for a node's subtree",
		Long: `Ask the relay for the nodes reachable downward from --root, bounded to
--depth levels.

Examples:
  thoughtspace subtree --relay ws://localhost:8787 --client alice --root n1 --depth 3`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubtree(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RelayURL, "relay", "", "relay websocket base URL (required)")
	_ = cmd.MarkFlagRequired("relay")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "this session's client id (required)")
	_ = cmd.MarkFlagRequired("client")
	cmd.Flags().StringVar(&opts.Root, "root", string(ir.RootID), "root node id")
	cmd.Flags().IntVar(&opts.Depth, "depth", 10, "maximum depth to traverse")

	return cmd
}

func runSubtree(opts *SubtreeOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	ws, err := relay.DialWSClient(ctx, opts.RelayURL, ir.ClientID(opts.ClientID))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer ws.Close()

	nodes, err := ws.Subtree(ctx, ir.NodeID(opts.Root), opts.Depth)
	if err != nil {
		return WrapExitError(ExitCommandError, "subtree query failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(nodes)
}
