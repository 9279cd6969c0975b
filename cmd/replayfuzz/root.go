package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/replayfuzz"
	"github.com/aretw0/replayfuzz/internal/cli"
	"github.com/aretw0/replayfuzz/internal/config"
	"github.com/aretw0/replayfuzz/internal/logging"
	"github.com/aretw0/replayfuzz/internal/presentation/tui"
)

var rootCmd = &cobra.Command{
	Use:   "replayfuzz",
	Short: "Replay fuzzing harness for stateful network servers",
	Long: `replayfuzz replays a recorded client transcript against a freshly started server,
substituting one message with a mutation file per trial, and archives the coverage
each run produces.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitConfig)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML or JSON config file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")
	rootCmd.PersistentFlags().String("log-file", "", "Also append log records to this file")
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")
}

// env carries what every command needs once flags are parsed.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	opts   cli.RunOptions
	close  func() error
}

func setup(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v, _ := cmd.Flags().GetString("log-file"); v != "" {
		cfg.Log.File = v
	}

	logger, closer, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	jsonMode, _ := cmd.Flags().GetBool("json")
	pretty := !jsonMode && tui.IsTerminal(os.Stdout)
	return &env{
		cfg:    cfg,
		logger: logger,
		close:  closer,
		opts: cli.RunOptions{
			Logger:  logger,
			Out:     os.Stdout,
			JSON:    jsonMode,
			Pretty:  pretty,
			Version: strings.TrimSpace(replayfuzz.Version),
		},
	}, nil
}

// run executes fn under a signal-aware context and exits with the mapped code.
func run(cmd *cobra.Command, banner bool, fn func(sc *cli.SignalContext, e *env) error) {
	e, err := setup(cmd)
	if err != nil {
		fail(err)
	}

	if banner && e.opts.Pretty {
		tui.PrintBanner(os.Stderr, e.opts.Version)
	}

	sc := cli.NewSignalContext(cmd.Context())
	err = fn(sc, e)
	sc.Stop()
	if sig := sc.Signal(); sig != nil {
		e.logger.Info("stopped by signal", "signal", sig.String())
	}
	_ = e.close()

	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(cli.ExitCode(err))
}
