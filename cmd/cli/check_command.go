package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCommand(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the model, score one silent clip and list its outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			svc, err := app.newService(nil)
			if err != nil {
				return err
			}
			res, err := svc.Check(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Model loaded in %.3fs, inference took %.3fs\n", res.ModelLoad.Seconds(), res.Inference.Seconds())
			if res.Signature != "" {
				fmt.Fprintf(out, "   Signature: %s (input %s)\n", res.Signature, res.Input)
			}
			fmt.Fprintln(out, renderOutputs(res.Shapes, res.ScoreKey))
			if res.ScoreKey == "" {
				fmt.Fprintln(out, "❌ No output can be used as scores; set --score-keys")
			}
			return nil
		},
	}
}
