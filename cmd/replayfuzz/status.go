package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/replayfuzz/internal/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted ledger statistics",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, false, func(sc *cli.SignalContext, e *env) error {
			return cli.Status(sc, e.cfg, e.opts)
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
