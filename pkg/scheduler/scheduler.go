package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aretw0/replayfuzz/internal/logging"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/ports"
)

// DefaultQuota is the number of trials a pair runs before its counter resets.
const DefaultQuota = 100

// DefaultPoll is the idle wait when a full sweep found nothing to run.
const DefaultPoll = 100 * time.Millisecond

// Stop reasons.
const (
	StopInterrupted = "interrupted"
	StopDuration    = "duration budget exhausted"
	StopTrials      = "trial budget exhausted"
)

// Budget bounds a run. Zero values are unbounded.
type Budget struct {
	Duration  time.Duration
	MaxTrials int
}

// Remaining is the end-of-run file count of one pair.
type Remaining struct {
	Pair  domain.PairKey `json:"pair"`
	Files int            `json:"files"`
}

// Report summarizes a run.
type Report struct {
	RunID      string          `json:"run_id"`
	Started    time.Time       `json:"started"`
	Elapsed    time.Duration   `json:"elapsed"`
	Stats      domain.RunStats `json:"stats"`
	Remaining  []Remaining     `json:"remaining,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
}

// Scheduler selects trials and feeds them to the Executor until the budget is spent.
type Scheduler struct {
	transcript domain.Transcript
	corpus     ports.Corpus
	ledger     ports.Ledger
	exec       *Executor

	policy  Policy
	picker  Picker
	medias  []string
	quota   int
	budget  Budget
	poll    time.Duration
	wake    <-chan struct{}
	limiter *rate.Limiter

	runID  string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	report Report
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithPolicy sets the state selection policy.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) {
		s.policy = p
	}
}

// WithPicker sets how candidates of a pair are chosen.
func WithPicker(p Picker) Option {
	return func(s *Scheduler) {
		s.picker = p
	}
}

// WithMedias sets the media variants every state is fuzzed under.
func WithMedias(medias ...string) Option {
	return func(s *Scheduler) {
		if len(medias) > 0 {
			s.medias = medias
		}
	}
}

// WithQuota sets the per-pair trial cap.
func WithQuota(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.quota = n
		}
	}
}

// WithBudget bounds the run.
func WithBudget(b Budget) Option {
	return func(s *Scheduler) {
		s.budget = b
	}
}

// WithPoll sets the idle wait.
func WithPoll(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithWake ends idle waits early when the channel fires.
func WithWake(ch <-chan struct{}) Option {
	return func(s *Scheduler) {
		s.wake = ch
	}
}

// WithRate caps trials per second. Zero disables pacing.
func WithRate(perSecond float64) Option {
	return func(s *Scheduler) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Scheduler) {
		s.runID = id
	}
}

// WithLogger configures a logger for the Scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler. The default policy is round robin with the batch picker.
func New(tr domain.Transcript, corpus ports.Corpus, ledger ports.Ledger, exec *Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		transcript: tr,
		corpus:     corpus,
		ledger:     ledger,
		exec:       exec,
		policy:     &RoundRobin{n: tr.Len()},
		picker:     Batch{},
		medias:     []string{""},
		quota:      DefaultQuota,
		poll:       DefaultPoll,
		runID:      uuid.NewString(),
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunID identifies this run in events and reports.
func (s *Scheduler) RunID() string {
	return s.runID
}

// Snapshot returns the report of the run so far. Safe to call concurrently with Run.
func (s *Scheduler) Snapshot() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.report
	r.Stats = domain.NewRunStats()
	for k, v := range s.report.Stats.ByOutcome {
		r.Stats.ByOutcome[k] = v
	}
	for k, v := range s.report.Stats.ByPair {
		r.Stats.ByPair[k] = v
	}
	r.Stats.Trials = s.report.Stats.Trials
	r.Stats.Coverage = s.report.Stats.Coverage
	r.Remaining = append([]Remaining(nil), s.report.Remaining...)
	if r.StopReason == "" && !r.Started.IsZero() {
		r.Elapsed = s.now().Sub(r.Started)
	}
	return r
}

// Run is the fuzz loop. It stops between trials when ctx is canceled or the budget
// is spent; interruption is reported through Report.StopReason, not as an error.
// The returned error means a backend (ledger, lock) failed.
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	if s.transcript.Len() == 0 {
		return Report{}, fmt.Errorf("%w: no states to fuzz", domain.ErrTranscript)
	}

	s.mu.Lock()
	s.report = Report{RunID: s.runID, Started: s.now(), Stats: domain.NewRunStats()}
	s.mu.Unlock()

	s.logger.Info("run started", "run_id", s.runID, "states", s.transcript.Len(), "medias", len(s.medias), "quota", s.quota)

	var runErr error
	idle := 0
	for {
		if reason := s.stopReason(ctx); reason != "" {
			s.setStop(reason)
			break
		}

		index := s.policy.Next()
		ran, err := s.iterate(ctx, index)
		if obs, ok := s.policy.(Observer); ok {
			obs.Observe(index, ran)
		}
		if err != nil {
			runErr = err
			s.setStop(err.Error())
			break
		}

		if ran > 0 {
			idle = 0
			continue
		}
		idle++
		if idle >= s.transcript.Len() {
			idle = 0
			s.wait(ctx, s.poll)
		}
	}

	s.reportRemaining(context.WithoutCancel(ctx))

	report := s.Snapshot()
	report.Elapsed = s.now().Sub(report.Started)
	s.logger.Info("run finished", "run_id", s.runID, "trials", report.Stats.Trials, "reason", report.StopReason, "elapsed", report.Elapsed)
	return report, runErr
}

// iterate runs the trials of one selected state across every media variant.
func (s *Scheduler) iterate(ctx context.Context, index int) (int, error) {
	state := s.transcript[index].State
	ran := 0

	for _, media := range s.medias {
		key := domain.PairKey{State: state, Media: media}

		count, err := s.ledger.PairCount(ctx, key)
		if err != nil {
			return ran, fmt.Errorf("read quota of %s: %w", key, err)
		}
		if count >= s.quota {
			s.logger.Info("quota reached, resetting counter", "state", state, "media", media, "quota", s.quota)
			if err := s.ledger.ResetPair(ctx, key); err != nil {
				return ran, fmt.Errorf("reset quota of %s: %w", key, err)
			}
			count = 0
		}

		fresh, err := s.candidates(ctx, key)
		if err != nil {
			return ran, err
		}
		if len(fresh) == 0 {
			s.logger.Debug("no files", "state", state, "media", media)
			continue
		}

		for _, path := range s.picker.Pick(fresh, s.quota-count) {
			if s.stopReason(ctx) != "" {
				return ran, nil
			}
			if s.exec.Paused() && !s.pause(ctx) {
				return ran, nil
			}
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return ran, nil
				}
			}

			res, err := s.exec.Execute(ctx, domain.Trial{Index: index, State: state, Media: media, Path: path})
			if errors.Is(err, ErrPaused) {
				s.pause(ctx)
				return ran, nil
			}
			if res.Outcome == domain.OutcomeAborted && ctx.Err() != nil {
				return ran, nil
			}
			if res.Outcome == domain.OutcomeLockUnavailable {
				return ran, err
			}

			ran++
			s.mu.Lock()
			s.report.Stats.Add(res.Record())
			s.mu.Unlock()

			if err != nil {
				return ran, err
			}
		}
	}
	return ran, nil
}

// candidates lists the pair's files that were not consumed yet.
func (s *Scheduler) candidates(ctx context.Context, key domain.PairKey) ([]string, error) {
	paths, err := s.corpus.List(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list corpus of %s: %w", key, err)
	}
	fresh := paths[:0:0]
	for _, p := range paths {
		done, err := s.ledger.Consumed(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", p, err)
		}
		if !done {
			fresh = append(fresh, p)
		}
	}
	return fresh, nil
}

func (s *Scheduler) stopReason(ctx context.Context) string {
	if ctx.Err() != nil {
		return StopInterrupted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budget.MaxTrials > 0 && s.report.Stats.Trials >= s.budget.MaxTrials {
		return StopTrials
	}
	if s.budget.Duration > 0 && s.now().Sub(s.report.Started) >= s.budget.Duration {
		return StopDuration
	}
	return ""
}

func (s *Scheduler) setStop(reason string) {
	s.mu.Lock()
	s.report.StopReason = reason
	s.mu.Unlock()
}

// wait sleeps for d, returning early on cancellation or a corpus change.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-s.wake:
	}
	return true
}

// pause holds selection while the launch breaker is open.
func (s *Scheduler) pause(ctx context.Context) bool {
	s.logger.Warn("server launches failing, pausing", "cooldown", s.exec.Cooldown())

	timer := time.NewTimer(s.exec.Cooldown())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) reportRemaining(ctx context.Context) {
	seen := make(map[string]bool)
	var remaining []Remaining

	for _, state := range s.transcript.States() {
		if seen[state] {
			continue
		}
		seen[state] = true

		for _, media := range s.medias {
			key := domain.PairKey{State: state, Media: media}
			paths, err := s.corpus.List(ctx, key)
			if err != nil {
				s.logger.Warn("could not count remaining files", "state", state, "media", media, "err", err)
				continue
			}
			s.logger.Info("files remain", "state", state, "media", media, "count", len(paths))
			remaining = append(remaining, Remaining{Pair: key, Files: len(paths)})
		}
	}

	s.mu.Lock()
	s.report.Remaining = remaining
	s.mu.Unlock()
}

// RunBaseline replays the transcript prefix ending at every index once, each on a
// fresh server, under every media variant.
func (s *Scheduler) RunBaseline(ctx context.Context) ([]domain.TrialResult, error) {
	var results []domain.TrialResult
	for i := range s.transcript {
		for _, media := range s.medias {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			for {
				res, err := s.exec.Baseline(ctx, i, media)
				if errors.Is(err, ErrPaused) {
					if !s.pause(ctx) {
						return results, ctx.Err()
					}
					continue
				}
				s.logger.Info("baseline finished", "state", res.Trial.State, "media", media, "outcome", res.Outcome, "coverage", res.Coverage)
				results = append(results, res)
				break
			}
		}
	}
	return results, nil
}

// RunOne executes a single explicit trial.
func (s *Scheduler) RunOne(ctx context.Context, trial domain.Trial) (domain.TrialResult, error) {
	if trial.Index < 0 || trial.Index >= s.transcript.Len() {
		return domain.TrialResult{Trial: trial, Outcome: domain.OutcomeAborted},
			fmt.Errorf("%w: index %d out of range [0,%d)", domain.ErrTranscript, trial.Index, s.transcript.Len())
	}
	if trial.State == "" {
		trial.State = s.transcript[trial.Index].State
	}
	return s.exec.Execute(ctx, trial)
}
