package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/replayfuzz/internal/cli"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fuzz loop",
	Long: `Schedules trials over the transcript states until the budget is spent or the
process is interrupted. Each trial starts the target, replays the transcript with
one mutation substituted, stops the target and archives its coverage.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, true, func(sc *cli.SignalContext, e *env) error {
			flags := cmd.Flags()
			if flags.Changed("max-trials") {
				e.cfg.Scheduler.Budget.MaxTrials, _ = flags.GetInt("max-trials")
			}
			if flags.Changed("duration") {
				e.cfg.Scheduler.Budget.Duration, _ = flags.GetDuration("duration")
			}
			if flags.Changed("policy") {
				e.cfg.Scheduler.Policy, _ = flags.GetString("policy")
			}
			if flags.Changed("seed") {
				e.cfg.Scheduler.Seed, _ = flags.GetUint64("seed")
			}
			if flags.Changed("quota") {
				e.cfg.Scheduler.Quota, _ = flags.GetInt("quota")
			}
			if flags.Changed("rate") {
				e.cfg.Scheduler.Rate, _ = flags.GetFloat64("rate")
			}
			if flags.Changed("status") {
				e.cfg.Status.Listen, _ = flags.GetString("status")
			}
			if flags.Changed("watch") {
				e.cfg.Corpus.Watch, _ = flags.GetBool("watch")
			}

			_, err := cli.Run(sc, e.cfg, e.opts)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int("max-trials", 0, "Stop after this many trials (0 means unlimited)")
	runCmd.Flags().Duration("duration", 0, "Stop after this much wall time (0 means unlimited)")
	runCmd.Flags().String("policy", "", "State selection policy: round_robin, weighted, length, uniform")
	runCmd.Flags().Uint64("seed", 0, "Seed for randomized policies (0 picks one from the clock)")
	runCmd.Flags().Int("quota", 0, "Trials per state and media before the counter resets")
	runCmd.Flags().Float64("rate", 0, "Maximum trials per second (0 means unlimited)")
	runCmd.Flags().String("status", "", "Serve /status, /healthz and /metrics on this address")
	runCmd.Flags().BoolP("watch", "w", false, "Wake up as soon as new mutation files appear")

	// 'run' is the default when no command is provided.
	rootCmd.Run = runCmd.Run
	rootCmd.Flags().AddFlagSet(runCmd.Flags())
}
