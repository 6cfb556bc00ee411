package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/germanamz/stepwise/pkg/console"
	"github.com/germanamz/stepwise/pkg/engine"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	envFile    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "stepwise",
		Short: "Drive an LLM through single-line tool calls over MCP",
		Long: `stepwise feeds a system prompt to an LLM, reads the first line of each reply
as either "FUNCTION_CALL: name|arg|..." or "FINAL_ANSWER: [x]", validates the
call against a fixed contract and forwards it to an MCP tool server.

Configuration comes from an optional YAML file, a .env file and the
environment (GEMINI_API_KEY, LLM_MODEL, MATH_PROBLEM, SRS_MD_FILE, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	pf.StringVar(&opts.envFile, "env", ".env", "path to .env file (ignored if missing)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging and tool results on the console")

	root.AddCommand(
		newMathCmd(opts),
		newSRSCmd(opts),
		newEvalCmd(opts),
		newServeCmd(opts),
	)

	return root
}

// app is what a command needs once flags are parsed.
type app struct {
	engine  *engine.Engine
	logger  *slog.Logger
	console *console.Console
	verbose bool
}

// load reads the configuration, applies the command's overrides and builds
// the engine. Logs and panels go to the command's stderr; stdout is left for
// results and JSON-RPC.
func (o *rootOptions) load(cmd *cobra.Command, overrides ...func(*engine.Config)) (*app, error) {
	stderr := cmd.ErrOrStderr()

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if err := engine.LoadDotEnv(o.envFile); err != nil {
		return nil, err
	}

	cfg, err := engine.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	for _, fn := range overrides {
		fn(&cfg)
	}

	// Child tool servers inherit the same config file.
	if o.configPath != "" && !cfg.ToolServer.InProcess && cfg.ToolServer.Command == "" {
		cfg.ToolServer.Args = append(cfg.ToolServer.Args, "--config", o.configPath)
	}

	con := console.New(stderr)
	eng, err := engine.New(cfg, engine.WithLogger(logger), engine.WithConsole(con))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &app{engine: eng, logger: logger, console: con, verbose: o.verbose}, nil
}
