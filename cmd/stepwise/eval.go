package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/germanamz/stepwise/pkg/console"
)

func newEvalCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score a driver prompt with the evaluate_prompt tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return errors.New("eval: --file is required")
			}

			a, err := opts.load(cmd)
			if err != nil {
				return err
			}

			a.console.Panel("", "Calling evaluate_prompt(...) via MCP", console.Info)

			rep, err := a.engine.EvaluatePromptFile(cmd.Context(), file)
			if err != nil {
				return err
			}

			if rep.JSON {
				a.console.Panel("", "Saved JSON -> "+rep.Path, console.Success)
			} else {
				a.console.Panel("", "Saved raw text -> "+rep.Path, console.Warning)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), rep.Raw)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "prompt file to evaluate")

	return cmd
}
