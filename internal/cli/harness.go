package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/aretw0/replayfuzz/internal/config"
	"github.com/aretw0/replayfuzz/internal/logging"
	"github.com/aretw0/replayfuzz/internal/metrics"
	"github.com/aretw0/replayfuzz/pkg/adapters/file"
	"github.com/aretw0/replayfuzz/pkg/adapters/memory"
	"github.com/aretw0/replayfuzz/pkg/adapters/process"
	redisadapter "github.com/aretw0/replayfuzz/pkg/adapters/redis"
	"github.com/aretw0/replayfuzz/pkg/coverage"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/ports"
	"github.com/aretw0/replayfuzz/pkg/protocol"
	"github.com/aretw0/replayfuzz/pkg/scheduler"
	"github.com/aretw0/replayfuzz/pkg/session"
)

// Readiness profile names.
const (
	ProfileFast     = "fast"
	ProfileThorough = "thorough"
)

// BuildOptions tunes a harness for one command.
type BuildOptions struct {
	Readiness string
	Preserve  bool
	Logger    *slog.Logger
}

// Harness is every component of a run, wired from the configuration.
type Harness struct {
	Config     config.Config
	Logger     *slog.Logger
	RunID      string
	Dialect    protocol.Dialect
	Transcript domain.Transcript
	Store      ports.MessageStore
	Corpus     *file.Corpus
	Ledger     ports.Ledger
	Launcher   *process.Manager
	Driver     *session.Driver
	Collector  *coverage.Collector
	Metrics    *metrics.Metrics
	Executor   *scheduler.Executor
	Scheduler  *scheduler.Scheduler

	closers []func() error
}

// Build wires a harness. The caller must Close it.
func Build(ctx context.Context, cfg config.Config, opts BuildOptions) (*Harness, error) {
	if err := cfg.Validate(true); err != nil {
		return nil, err
	}

	h := &Harness{Config: cfg, Logger: opts.Logger, RunID: uuid.NewString()}
	if h.Logger == nil {
		h.Logger = logging.NewNop()
	}
	logger := h.Logger

	ok := false
	defer func() {
		if !ok {
			_ = h.Close()
		}
	}()

	var err error
	if h.Dialect, err = cfg.Dialect(); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	if h.Transcript, err = loadTranscript(cfg, h.Dialect, logger); err != nil {
		return nil, err
	}

	h.Store = file.NewStore(cfg.Store.Dir)
	h.Corpus = file.NewCorpus(cfg.Corpus.Root)
	h.Corpus.Ext = cfg.Corpus.Ext

	ledger, client, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	h.Ledger = ledger
	if c, ok := ledger.(interface{ Close() error }); ok {
		h.closers = append(h.closers, c.Close)
	}

	h.Metrics = metrics.New()
	hooks := domain.Combine(h.Metrics.Hooks(), debugHooks(logger))

	sig, err := process.ParseSignal(cfg.Target.StopSignal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	readiness := cfg.Target.Readiness.Fast
	if opts.Readiness == ProfileThorough {
		readiness = cfg.Target.Readiness.Thorough
	}
	h.Launcher = process.NewManager(cfg.Target.Addr, cfg.Target.Command,
		process.WithArgs(cfg.Target.Args...),
		process.WithDir(cfg.Target.Dir),
		process.WithEnv(cfg.Target.Environment),
		process.WithCoverage(cfg.Coverage.Dir, cfg.Target.CoverageEnv),
		process.WithReadiness(readiness),
		process.WithStopSignal(sig),
		process.WithStopTimeout(cfg.Target.StopTimeout),
		process.WithLogDir(cfg.Target.LogDir),
		process.WithLogger(logger),
	)

	h.Driver = session.NewDriver(cfg.Target.Addr, h.Dialect, h.Store,
		session.WithConnectTimeout(cfg.Target.ConnectTimeout),
		session.WithReadTimeout(cfg.Target.ReadTimeout),
		session.WithBufferSize(cfg.Target.BufferSize),
		session.WithPace(cfg.Target.Pace),
		session.WithRecoverDelay(cfg.Target.RecoverDelay),
		session.WithValidation(cfg.Protocol.Validate),
		session.WithClosing(cfg.Protocol.Closing),
		session.WithHooks(hooks),
		session.WithLogger(logger),
	)

	h.Collector = coverage.New(cfg.Coverage.Dir, cfg.Coverage.Pattern, coverage.WithLogger(logger))

	execOpts := []scheduler.ExecutorOption{
		scheduler.WithCollector(h.Collector),
		scheduler.WithBreaker(scheduler.BreakerSettings{
			MaxFailures: cfg.Scheduler.Breaker.MaxFailures,
			Cooldown:    cfg.Scheduler.Breaker.Cooldown,
		}),
		scheduler.WithPreserve(opts.Preserve),
		scheduler.WithExecutorRunID(h.RunID),
		scheduler.WithExecutorHooks(hooks),
		scheduler.WithExecutorLogger(logger),
	}
	if cfg.Target.Lock.Enabled {
		var locker ports.DistributedLocker = memory.NewLocker()
		if client != nil {
			locker = redisadapter.NewLocker(client, cfg.Ledger.Redis.Prefix)
		}
		execOpts = append(execOpts, scheduler.WithLocker(locker, cfg.Target.Addr, cfg.Target.Lock.TTL))
	}
	h.Executor = scheduler.NewExecutor(h.Transcript, h.Corpus, h.Ledger, h.Launcher, h.Driver, execOpts...)

	seed := cfg.Scheduler.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	policy, err := scheduler.NewPolicy(scheduler.Kind(cfg.Scheduler.Policy), h.Transcript, cfg.Scheduler.Pin, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	picker, err := scheduler.NewPicker(scheduler.PickerKind(cfg.Scheduler.Picker), scheduler.Kind(cfg.Scheduler.Policy), rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	schedOpts := []scheduler.Option{
		scheduler.WithPolicy(policy),
		scheduler.WithPicker(picker),
		scheduler.WithMedias(cfg.Medias()...),
		scheduler.WithQuota(cfg.Scheduler.Quota),
		scheduler.WithBudget(scheduler.Budget{
			Duration:  cfg.Scheduler.Budget.Duration,
			MaxTrials: cfg.Scheduler.Budget.MaxTrials,
		}),
		scheduler.WithPoll(cfg.Scheduler.Poll),
		scheduler.WithRate(cfg.Scheduler.Rate),
		scheduler.WithRunID(h.RunID),
		scheduler.WithLogger(logger),
	}
	if cfg.Corpus.Watch {
		if err := os.MkdirAll(cfg.Corpus.Root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create corpus root: %w", err)
		}
		w, err := file.Watch(cfg.Corpus.Root, logger)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, w.Close)
		schedOpts = append(schedOpts, scheduler.WithWake(w.Changes()))
	}
	h.Scheduler = scheduler.New(h.Transcript, h.Corpus, h.Ledger, h.Executor, schedOpts...)

	ok = true
	return h, nil
}

// Close releases the ledger backend and the corpus watcher.
func (h *Harness) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

func loadTranscript(cfg config.Config, dialect protocol.Dialect, logger *slog.Logger) (domain.Transcript, error) {
	fallback := cfg.DefaultTranscript()
	if len(fallback) == 0 {
		fallback = dialect.DefaultTranscript()
	}
	return file.LoadTranscript(cfg.Transcript.Path,
		file.WithPolicy(file.FallbackPolicy(cfg.Transcript.OnError)),
		file.WithFallback(fallback),
		file.WithTranscriptLogger(logger),
	)
}

// openLedger returns the configured ledger and, for redis, its client so the
// target lock can share the connection.
func openLedger(ctx context.Context, cfg config.Config) (ports.Ledger, *goredis.Client, error) {
	switch cfg.Ledger.Kind {
	case "memory":
		return memory.NewLedger(), nil, nil
	case "file":
		l, err := file.NewLedger(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return l, nil, nil
	case "redis":
		r := cfg.Ledger.Redis
		var opts []redisadapter.Option
		if r.Prefix != "" {
			opts = append(opts, redisadapter.WithPrefix(r.Prefix))
		}
		if r.TTL > 0 {
			opts = append(opts, redisadapter.WithTTL(r.TTL))
		}
		l := redisadapter.New(r.Addr, r.Password, r.DB, opts...)
		if err := l.Client().Ping(ctx).Err(); err != nil {
			_ = l.Close()
			return nil, nil, fmt.Errorf("%w: redis %s: %v", ErrBackend, r.Addr, err)
		}
		return l, l.Client(), nil
	}
	return nil, nil, fmt.Errorf("%w: unknown ledger kind %q", config.ErrInvalid, cfg.Ledger.Kind)
}

// debugHooks trace the harness at debug level.
func debugHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTrialStart: func(ctx context.Context, e *domain.TrialEvent) {
			logger.Debug("Trial Start", "state", e.Trial.State, "media", e.Trial.Media, "file", e.Trial.Path)
		},
		OnTrialEnd: func(ctx context.Context, e *domain.TrialEvent) {
			if e.Result != nil {
				logger.Debug("Trial End", "file", e.Trial.Path, "outcome", e.Result.Outcome, "coverage", e.Result.Coverage)
			}
		},
		OnMessage: func(ctx context.Context, e *domain.MessageEvent) {
			logger.Debug("Message", "state", e.Message.State, "phase", e.Message.Phase, "cseq", e.Message.CSeq, "session", e.Message.Token, "responded", e.Message.Responded)
		},
		OnServerStart: func(ctx context.Context, e *domain.ServerEvent) {
			if e.Err != nil {
				logger.Debug("Server Start Failed", "label", e.Label, "err", e.Err)
				return
			}
			logger.Debug("Server Start", "label", e.Label, "pid", e.PID, "startup", e.Duration)
		},
		OnServerStop: func(ctx context.Context, e *domain.ServerEvent) {
			logger.Debug("Server Stop", "label", e.Label, "pid", e.PID, "uptime", e.Duration)
		},
		OnCoverage: func(ctx context.Context, e *domain.CoverageEvent) {
			logger.Debug("Coverage", "label", e.Label, "path", e.Path)
		},
	}
}
