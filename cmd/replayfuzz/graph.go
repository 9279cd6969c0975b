package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/replayfuzz/internal/cli"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the transcript as a Mermaid flowchart",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		stats, _ := cmd.Flags().GetBool("stats")
		run(cmd, false, func(sc *cli.SignalContext, e *env) error {
			return cli.Graph(sc, e.cfg, stats, e.opts)
		})
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().Bool("stats", false, "Annotate states with the trials recorded in the ledger")
}
