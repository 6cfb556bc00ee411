package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/germanamz/stepwise/pkg/console"
	"github.com/germanamz/stepwise/pkg/engine"
)

func newMathCmd(opts *rootOptions) *cobra.Command {
	var problem string

	cmd := &cobra.Command{
		Use:   "math",
		Short: "Solve an arithmetic problem step by step with the cot tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.load(cmd, func(c *engine.Config) {
				if problem != "" {
					c.Math.Problem = problem
				}
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, flow, err := a.engine.NewMathSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			a.console.Panel("", "Problem: "+flow.Problem(), console.Info)

			stop := a.watch()
			out, err := s.Run(ctx)
			stop()
			if err != nil {
				return err
			}

			if out.Verified != "" {
				a.console.Line("verify(%s, %s) -> %s", flow.Problem(), out.Answer, out.Verified)
			}
			if err := a.report("Calculation", out); err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), out.Answer)
			return err
		},
	}

	cmd.Flags().StringVarP(&problem, "problem", "p", "", "problem to solve (overrides MATH_PROBLEM)")

	return cmd
}
