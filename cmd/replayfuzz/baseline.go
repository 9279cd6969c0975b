package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/replayfuzz/internal/cli"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Replay every transcript prefix once without mutation",
	Long: `Runs one unmutated trial per state and media using the thorough readiness
profile, archiving the coverage each produces. The ledger and corpus are untouched.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, true, func(sc *cli.SignalContext, e *env) error {
			return cli.Baseline(sc, e.cfg, e.opts)
		})
	},
}

func init() {
	rootCmd.AddCommand(baselineCmd)
}
