package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aretw0/replayfuzz/internal/logging"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/ports"
)

// ErrPaused is returned by Execute when the launch breaker refuses to start a server.
// The trial is not consumed.
var ErrPaused = errors.New("launches paused after repeated start failures")

// Runner drives one conversation against a ready server. *session.Driver implements it.
type Runner interface {
	RunTrial(ctx context.Context, tr domain.Transcript, index int, payload []byte, media string) domain.TrialResult
	RunBaseline(ctx context.Context, tr domain.Transcript, upto int, media string) domain.TrialResult
}

// BreakerSettings configures the launch circuit breaker. MaxFailures zero disables it.
type BreakerSettings struct {
	MaxFailures int
	Cooldown    time.Duration
}

// Executor runs single trials end to end: fresh server, one conversation, teardown, bookkeeping.
type Executor struct {
	transcript domain.Transcript
	corpus     ports.Corpus
	ledger     ports.Ledger
	launcher   ports.Launcher
	runner     Runner
	collector  ports.Collector
	locker     ports.DistributedLocker
	lockKey    string
	lockTTL    time.Duration
	breaker    *gobreaker.CircuitBreaker
	cooldown   time.Duration
	preserve   bool
	runID      string
	hooks      domain.LifecycleHooks
	logger     *slog.Logger
	now        func() time.Time
}

// ExecutorOption configures the Executor.
type ExecutorOption func(*Executor)

// WithCollector claims coverage after every server stop.
func WithCollector(c ports.Collector) ExecutorOption {
	return func(e *Executor) {
		e.collector = c
	}
}

// WithLocker serializes server launches on key across harness processes.
func WithLocker(l ports.DistributedLocker, key string, ttl time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.locker = l
		e.lockKey = key
		e.lockTTL = ttl
	}
}

// WithBreaker guards launches with a circuit breaker.
func WithBreaker(s BreakerSettings) ExecutorOption {
	return func(e *Executor) {
		if s.MaxFailures <= 0 {
			e.breaker = nil
			return
		}
		if s.Cooldown <= 0 {
			s.Cooldown = time.Minute
		}
		e.cooldown = s.Cooldown
		limit := uint32(s.MaxFailures)
		e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "launcher",
			MaxRequests: 1,
			Timeout:     s.Cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= limit
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				e.logger.Warn("launch breaker state changed", "from", from.String(), "to", to.String())
			},
		})
	}
}

// WithPreserve leaves mutation files and the ledger untouched. Used for diagnostic replays.
func WithPreserve(preserve bool) ExecutorOption {
	return func(e *Executor) {
		e.preserve = preserve
	}
}

// WithExecutorRunID tags emitted events.
func WithExecutorRunID(id string) ExecutorOption {
	return func(e *Executor) {
		e.runID = id
	}
}

// WithExecutorHooks registers lifecycle hooks.
func WithExecutorHooks(hooks domain.LifecycleHooks) ExecutorOption {
	return func(e *Executor) {
		e.hooks = hooks
	}
}

// WithExecutorLogger configures a logger for the Executor.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor wires the trial pipeline.
func NewExecutor(tr domain.Transcript, corpus ports.Corpus, ledger ports.Ledger, launcher ports.Launcher, runner Runner, opts ...ExecutorOption) *Executor {
	e := &Executor{
		transcript: tr,
		corpus:     corpus,
		ledger:     ledger,
		launcher:   launcher,
		runner:     runner,
		lockTTL:    time.Minute,
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Paused reports whether the breaker currently refuses launches.
func (e *Executor) Paused() bool {
	return e.breaker != nil && e.breaker.State() == gobreaker.StateOpen
}

// Cooldown is how long the breaker stays open.
func (e *Executor) Cooldown() time.Duration {
	return e.cooldown
}

// Execute runs one trial. The returned error is non-nil only for failures that
// must stop the run (ledger or lock backend, interruption) or for ErrPaused;
// everything else is reported through the result's Outcome.
func (e *Executor) Execute(ctx context.Context, trial domain.Trial) (domain.TrialResult, error) {
	res := domain.TrialResult{Trial: trial, StartedAt: e.now()}
	logger := e.logger.With("state", trial.State, "media", trial.Media, "file", trial.Path)

	if e.hooks.OnTrialStart != nil {
		e.hooks.OnTrialStart(ctx, &domain.TrialEvent{EventBase: e.base(domain.EventTrialStart), Trial: trial})
	}

	payload, err := e.corpus.Read(trial.Path)
	if err != nil {
		res.Outcome = domain.OutcomeMissingMutationFile
		res.Err = err
		logger.Warn("mutation file unavailable", "err", err)
		return res, e.finish(ctx, &res, nil, time.Time{})
	}

	if e.locker != nil {
		unlock, err := e.locker.Lock(ctx, e.lockKey, e.lockTTL)
		if err != nil {
			res.Outcome = domain.OutcomeLockUnavailable
			res.Err = err
			if ctx.Err() != nil {
				res.Outcome = domain.OutcomeAborted
				return res, ctx.Err()
			}
			return res, fmt.Errorf("lock %s: %w", e.lockKey, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release target lock", "err", err)
			}
		}()
	}

	// An accepted trial runs to completion; interruption is honored between trials.
	trialCtx := context.WithoutCancel(ctx)

	handle, started, err := e.start(trialCtx, trial.Label())
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		res.Outcome = domain.OutcomeAborted
		return res, ErrPaused
	}
	if err != nil {
		res.Outcome = domain.OutcomeStartFailure
		res.Err = err
		logger.Error("server start failed", "err", err)
		return res, e.finish(ctx, &res, handle, started)
	}

	// The server is reaped and the file consumed even if the exchange panics.
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = domain.OutcomeAborted
			res.Err = fmt.Errorf("trial panicked: %v", r)
			logger.Error("trial panicked", "err", res.Err)
			if err := e.finish(ctx, &res, handle, started); err != nil {
				logger.Error("bookkeeping after panic failed", "err", err)
			}
			panic(r)
		}
	}()

	res = e.runner.RunTrial(trialCtx, e.transcript, trial.Index, payload, trial.Media)
	res.Trial = trial
	logger.Info("trial finished", "outcome", res.Outcome, "sent", res.MessagesSent(), "duration", res.Duration)
	return res, e.finish(ctx, &res, handle, started)
}

// Baseline replays the transcript up to and including index on a fresh server.
// Coverage is claimed under the state name, suffixed by media when set. Nothing is consumed or recorded.
func (e *Executor) Baseline(ctx context.Context, index int, media string) (domain.TrialResult, error) {
	state := e.transcript[index].State
	trial := domain.Trial{Index: index, State: state, Media: media}
	res := domain.TrialResult{Trial: trial, StartedAt: e.now()}
	label := state
	if media != "" {
		label += "_" + media
	}

	handle, started, err := e.start(context.WithoutCancel(ctx), label)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		res.Outcome = domain.OutcomeAborted
		return res, ErrPaused
	}
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = domain.OutcomeAborted
			res.Err = fmt.Errorf("baseline panicked: %v", r)
			e.teardown(ctx, &res, label, handle, started)
			panic(r)
		}
	}()

	if err != nil {
		res.Outcome = domain.OutcomeStartFailure
		res.Err = err
	} else {
		res = e.runner.RunBaseline(context.WithoutCancel(ctx), e.transcript, index, media)
		res.Trial = trial
	}
	e.teardown(ctx, &res, label, handle, started)
	return res, nil
}

func (e *Executor) start(ctx context.Context, label string) (ports.ServerHandle, time.Time, error) {
	begin := e.now()
	launch := func() (interface{}, error) {
		return e.launcher.Start(ctx, label)
	}

	var (
		out interface{}
		err error
	)
	if e.breaker != nil {
		out, err = e.breaker.Execute(launch)
	} else {
		out, err = launch()
	}
	handle, _ := out.(ports.ServerHandle)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, begin, err
	}

	ev := &domain.ServerEvent{EventBase: e.base(domain.EventServerStart), Label: label, Err: err, Duration: e.now().Sub(begin)}
	if handle != nil {
		ev.PID = handle.PID()
	}
	if e.hooks.OnServerStart != nil {
		e.hooks.OnServerStart(ctx, ev)
	}
	return handle, e.now(), err
}

// teardown stops the server and claims its coverage.
func (e *Executor) teardown(ctx context.Context, res *domain.TrialResult, label string, handle ports.ServerHandle, started time.Time) {
	if handle != nil {
		pid := handle.PID()
		if err := handle.Stop(); err != nil {
			e.logger.Warn("server stop reported an error", "pid", pid, "err", err)
		}
		if e.hooks.OnServerStop != nil {
			e.hooks.OnServerStop(ctx, &domain.ServerEvent{
				EventBase: e.base(domain.EventServerStop),
				Label:     label,
				PID:       pid,
				Duration:  e.now().Sub(started),
			})
		}

		if e.collector != nil {
			path, err := e.collector.Claim(label)
			if err != nil {
				e.logger.Warn("coverage claim failed", "label", label, "err", err)
			}
			res.Coverage = path
			if e.hooks.OnCoverage != nil {
				e.hooks.OnCoverage(ctx, &domain.CoverageEvent{EventBase: e.base(domain.EventCoverage), Label: label, Path: path})
			}
		}
	}
}

// finish runs the bookkeeping every trial goes through, whatever its outcome.
func (e *Executor) finish(ctx context.Context, res *domain.TrialResult, handle ports.ServerHandle, started time.Time) error {
	e.teardown(ctx, res, res.Trial.Label(), handle, started)

	var err error
	if !e.preserve {
		if cerr := e.corpus.Consume(res.Trial.Path); cerr != nil {
			e.logger.Warn("failed to remove mutation file", "file", res.Trial.Path, "err", cerr)
		}
		if rerr := e.ledger.Record(context.WithoutCancel(ctx), res.Record()); rerr != nil {
			err = fmt.Errorf("record trial %s: %w", res.Trial.Path, rerr)
		}
	}

	if e.hooks.OnTrialEnd != nil {
		e.hooks.OnTrialEnd(ctx, &domain.TrialEvent{EventBase: e.base(domain.EventTrialEnd), Trial: res.Trial, Result: res})
	}
	return err
}

func (e *Executor) base(t domain.EventType) domain.EventBase {
	return domain.EventBase{Timestamp: e.now(), Type: t, RunID: e.runID}
}
