package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/replayfuzz/internal/cli"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration, transcript and corpus",
	Long: `Reports whether the target command resolves, the transcript parses, every
transcript state has a stored payload, and how many mutation files are waiting.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, false, func(sc *cli.SignalContext, e *env) error {
			return cli.Validate(sc, e.cfg, e.opts)
		})
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
