package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/germanamz/stepwise/pkg/console"
)

func newSRSCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "srs",
		Short: "Turn markdown Q/A pairs into a scheduled flashcard CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.load(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, flow, err := a.engine.NewSRSSession(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			a.console.Panel("", "# output -> "+a.engine.Config().SRSOutputPath(), console.Info)

			stop := a.watch()
			out, err := s.Run(ctx)
			stop()
			if err != nil {
				return err
			}

			if path := flow.State().CSVPath; path != "" {
				a.console.Line("deck written to %s", path)
			}
			if err := a.report("SRS pipeline", out); err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), out.Answer)
			return err
		},
	}
}
