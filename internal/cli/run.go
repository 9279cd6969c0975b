package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	httpadapter "github.com/aretw0/replayfuzz/internal/adapters/http"
	"github.com/aretw0/replayfuzz/internal/config"
	"github.com/aretw0/replayfuzz/internal/logging"
	"github.com/aretw0/replayfuzz/internal/presentation/graph"
	"github.com/aretw0/replayfuzz/internal/presentation/tui"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/scheduler"
)

// RunOptions contains the presentation settings shared by every command.
type RunOptions struct {
	Logger  *slog.Logger
	Out     io.Writer
	JSON    bool
	Pretty  bool
	Version string
}

func (o RunOptions) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// Run executes the fuzz loop until the budget is spent or ctx is cancelled,
// serving status while it runs when status.listen is set.
func Run(ctx context.Context, cfg config.Config, opts RunOptions) (scheduler.Report, error) {
	h, err := Build(ctx, cfg, BuildOptions{Readiness: ProfileFast, Logger: opts.Logger})
	if err != nil {
		return scheduler.Report{}, err
	}
	defer h.Close()

	g, gctx := errgroup.WithContext(ctx)
	statusCtx, stopStatus := context.WithCancel(gctx)
	defer stopStatus()

	var report scheduler.Report
	g.Go(func() error {
		defer stopStatus()
		r, err := h.Scheduler.Run(gctx)
		report = r
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBackend, err)
		}
		return nil
	})

	if cfg.Status.Listen != "" {
		handler := httpadapter.NewHandler(&httpadapter.Server{
			Run:     h.Scheduler,
			Ledger:  h.Ledger,
			Metrics: h.Metrics.Handler(),
			Version: opts.Version,
		})
		g.Go(func() error {
			return httpadapter.Serve(statusCtx, cfg.Status.Listen, handler, h.Logger)
		})
	}

	runErr := g.Wait()
	if err := emit(opts, report, tui.RunSummary(report)); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ErrInterrupted
	}
	return report, runErr
}

// Baseline replays every transcript prefix once without mutation.
func Baseline(ctx context.Context, cfg config.Config, opts RunOptions) error {
	h, err := Build(ctx, cfg, BuildOptions{Readiness: ProfileThorough, Preserve: true, Logger: opts.Logger})
	if err != nil {
		return err
	}
	defer h.Close()

	results, err := h.Scheduler.RunBaseline(ctx)
	if perr := emit(opts, results, tui.BaselineSummary(results)); perr != nil {
		return perr
	}
	if err != nil && ctx.Err() != nil {
		return ErrInterrupted
	}
	return err
}

// ReplayOptions selects the single trial to replay.
type ReplayOptions struct {
	Path    string
	State   string
	Media   string
	Consume bool
}

// Replay runs one mutation file against a fresh server. By default the file and
// the ledger are left untouched.
func Replay(ctx context.Context, cfg config.Config, ro ReplayOptions, opts RunOptions) error {
	h, err := Build(ctx, cfg, BuildOptions{Readiness: ProfileThorough, Preserve: !ro.Consume, Logger: opts.Logger})
	if err != nil {
		return err
	}
	defer h.Close()

	index := h.Transcript.IndexOf(ro.State)
	if index < 0 {
		return fmt.Errorf("%w: state %q is not in the transcript %v", config.ErrInvalid, ro.State, h.Transcript.States())
	}

	res, err := h.Scheduler.RunOne(ctx, domain.Trial{Index: index, State: ro.State, Media: ro.Media, Path: ro.Path})
	if err != nil {
		return err
	}
	return emit(opts, res, tui.TrialSummary(res))
}

// Status prints the persisted ledger statistics.
func Status(ctx context.Context, cfg config.Config, opts RunOptions) error {
	ledger, _, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := ledger.(interface{ Close() error }); ok {
		defer c.Close()
	}

	stats, err := ledger.Stats(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return emit(opts, stats, tui.LedgerSummary(stats))
}

// Graph writes the transcript as a Mermaid flowchart. With stats set, each state
// is annotated with the trials the ledger has recorded for it.
func Graph(ctx context.Context, cfg config.Config, stats bool, opts RunOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	dialect, err := cfg.Dialect()
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	tr, err := loadTranscript(cfg, dialect, logger)
	if err != nil {
		return err
	}

	var overlay *graph.Overlay
	if stats {
		ledger, _, err := openLedger(ctx, cfg)
		if err != nil {
			return err
		}
		if c, ok := ledger.(interface{ Close() error }); ok {
			defer c.Close()
		}
		s, err := ledger.Stats(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		overlay = graph.NewOverlay(s)
	}

	_, err = io.WriteString(opts.out(), graph.GenerateMermaid(tr, overlay))
	return err
}

// emit writes v as JSON or markdown as markdown, rendered when Pretty is set.
func emit(opts RunOptions, v any, markdown string) error {
	w := opts.out()
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	out, err := tui.NewRenderer(opts.Pretty)(markdown)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}
