package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/thoughtspace/sync/internal/relay"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Listen   string
}

// NewServeCommand creates the serve command, which runs a Relay (spec.md
// §4.5) as an HTTP/websocket server.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay for a thoughtspace",
		Long: `Run the process-wide-per-thoughtspace authoritative relay: accept pushes,
assign sync timestamps, apply the CRDT engine, serve stream-since-cursor,
hydration, and subtree queries over HTTP/websocket.

Examples:
  thoughtspace serve --db ./thoughtspace.db --listen :8787
  thoughtspace serve --config ./thoughtspace.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "address to listen on (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	if opts.Listen != "" {
		cfg.ListenAddr = opts.Listen
	}

	ctx := context.Background()
	r, err := relay.Open(ctx, cfg.DBPath, cfg.RelayConfig())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open relay", err)
	}
	defer r.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "relay listening on %s (db=%s)\n", cfg.ListenAddr, cfg.DBPath)

	srv := relay.NewServer(r)
	if err := http.ListenAndServe(cfg.ListenAddr, srv); err != nil {
		return WrapExitError(ExitCommandError, "relay server stopped", err)
	}
	return nil
}
