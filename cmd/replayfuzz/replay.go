package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/replayfuzz/internal/cli"
)

var replayCmd = &cobra.Command{
	Use:   "replay <mutation-file>",
	Short: "Replay a single mutation file",
	Long: `Starts the target, replays the transcript up to --state, sends the given file in
its place and prints the outcome. Useful for reproducing a crash.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		state, _ := cmd.Flags().GetString("state")
		media, _ := cmd.Flags().GetString("media")
		consume, _ := cmd.Flags().GetBool("consume")

		run(cmd, false, func(sc *cli.SignalContext, e *env) error {
			return cli.Replay(sc, e.cfg, cli.ReplayOptions{
				Path:    args[0],
				State:   state,
				Media:   media,
				Consume: consume,
			}, e.opts)
		})
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringP("state", "s", "", "Transcript state the file replaces")
	replayCmd.Flags().StringP("media", "m", "", "Media variant the trial is recorded under")
	replayCmd.Flags().Bool("consume", false, "Delete the file and record the trial in the ledger")
	_ = replayCmd.MarkFlagRequired("state")
}
