package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/germanamz/stepwise/pkg/engine"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "serve <" + strings.Join(engine.Kits, "|") + ">",
		Short:     "Run a tool server speaking MCP on stdin/stdout",
		Long:      "Run a tool server speaking MCP JSON-RPC on stdin/stdout. Logs and panels go to stderr.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: engine.Kits,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			srv, err := a.engine.ToolServer(ctx, args[0])
			if err != nil {
				return err
			}

			a.logger.DebugContext(ctx, "tool server ready", "kit", args[0])

			if err := srv.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil && ctx.Err() == nil {
				return fmt.Errorf("serve %s: %w", args[0], err)
			}
			return nil
		},
	}
}
