package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/replayfuzz/pkg/adapters/file"
	"github.com/aretw0/replayfuzz/pkg/adapters/memory"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/ports"
	"github.com/aretw0/replayfuzz/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder keeps the order in which the pipeline touched its collaborators.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeHandle struct {
	rec *recorder
	pid int
}

func (h *fakeHandle) Stop() error {
	h.rec.add("stop")
	return nil
}

func (h *fakeHandle) PID() int { return h.pid }

type fakeLauncher struct {
	rec    *recorder
	err    error
	mu     sync.Mutex
	labels []string
}

func (l *fakeLauncher) Start(ctx context.Context, label string) (ports.ServerHandle, error) {
	l.mu.Lock()
	l.labels = append(l.labels, label)
	l.mu.Unlock()
	l.rec.add("start")
	if l.err != nil {
		return &fakeHandle{rec: l.rec}, l.err
	}
	return &fakeHandle{rec: l.rec, pid: 4242}, nil
}

func (l *fakeLauncher) starts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.labels...)
}

type call struct {
	index   int
	payload string
	media   string
}

type fakeRunner struct {
	rec     *recorder
	outcome domain.Outcome
	panics  bool
	mu      sync.Mutex
	calls   []call
}

func (r *fakeRunner) RunTrial(ctx context.Context, tr domain.Transcript, index int, payload []byte, media string) domain.TrialResult {
	r.rec.add("run")
	r.mu.Lock()
	r.calls = append(r.calls, call{index: index, payload: string(payload), media: media})
	r.mu.Unlock()
	if r.panics {
		panic("dialect exploded")
	}
	outcome := r.outcome
	if outcome == "" {
		outcome = domain.OutcomeCompleted
	}
	return domain.TrialResult{Outcome: outcome}
}

func (r *fakeRunner) RunBaseline(ctx context.Context, tr domain.Transcript, upto int, media string) domain.TrialResult {
	r.rec.add("baseline")
	if r.panics {
		panic("dialect exploded")
	}
	return domain.TrialResult{Outcome: domain.OutcomeCompleted}
}

type fakeCollector struct {
	rec *recorder
}

func (c *fakeCollector) Claim(label string) (string, error) {
	c.rec.add("claim")
	return label + ".sancov", nil
}

type recordingCorpus struct {
	*file.Corpus
	rec *recorder
}

func (c recordingCorpus) Consume(path string) error {
	c.rec.add("consume")
	return c.Corpus.Consume(path)
}

type recordingLedger struct {
	*memory.Ledger
	rec *recorder
}

func (l recordingLedger) Record(ctx context.Context, r domain.TrialRecord) error {
	l.rec.add("record")
	return l.Ledger.Record(ctx, r)
}

type failingLocker struct{}

func (failingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	return nil, domain.ErrLockAcquire
}

// seed writes mutation files under <root>/<dir>.
func seed(t *testing.T, root, dir string, names ...string) []string {
	t.Helper()
	full := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(full, 0755))
	var paths []string
	for _, n := range names {
		p := filepath.Join(full, n+".raw")
		require.NoError(t, os.WriteFile(p, []byte("payload-"+n), 0644))
		paths = append(paths, p)
	}
	return paths
}

type harness struct {
	rec      *recorder
	root     string
	corpus   recordingCorpus
	ledger   recordingLedger
	launcher *fakeLauncher
	runner   *fakeRunner
}

func newHarness(t *testing.T) *harness {
	rec := &recorder{}
	root := t.TempDir()
	return &harness{
		rec:      rec,
		root:     root,
		corpus:   recordingCorpus{Corpus: file.NewCorpus(root), rec: rec},
		ledger:   recordingLedger{Ledger: memory.NewLedger(), rec: rec},
		launcher: &fakeLauncher{rec: rec},
		runner:   &fakeRunner{rec: rec},
	}
}

func (h *harness) executor(opts ...scheduler.ExecutorOption) *scheduler.Executor {
	base := []scheduler.ExecutorOption{scheduler.WithCollector(&fakeCollector{rec: h.rec})}
	return scheduler.NewExecutor(rtspTranscript(), h.corpus, h.ledger, h.launcher, h.runner, append(base, opts...)...)
}

func (h *harness) scheduler(exec *scheduler.Executor, opts ...scheduler.Option) *scheduler.Scheduler {
	base := []scheduler.Option{scheduler.WithPoll(5 * time.Millisecond)}
	return scheduler.New(rtspTranscript(), h.corpus, h.ledger, exec, append(base, opts...)...)
}

func TestExecute_TeardownOrder(t *testing.T) {
	h := newHarness(t)
	paths := seed(t, h.root, "SETUP", "m1")

	var ended *domain.TrialResult
	exec := h.executor(scheduler.WithExecutorHooks(domain.LifecycleHooks{
		OnTrialEnd: func(ctx context.Context, e *domain.TrialEvent) {
			h.rec.add("end")
			ended = e.Result
		},
	}))

	res, err := exec.Execute(context.Background(), domain.Trial{Index: 1, State: "SETUP", Path: paths[0]})
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "run", "stop", "claim", "consume", "record", "end"}, h.rec.list())
	assert.Equal(t, domain.OutcomeCompleted, res.Outcome)
	assert.Equal(t, "m1.sancov", res.Coverage)
	assert.Equal(t, []string{"m1"}, h.launcher.starts(), "servers are labeled by mutation id")
	require.NotNil(t, ended)
	assert.Equal(t, paths[0], ended.Trial.Path)

	assert.NoFileExists(t, paths[0])
	consumed, err := h.ledger.Consumed(context.Background(), paths[0])
	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, "payload-m1", h.runner.calls[0].payload)
	assert.Equal(t, 1, h.runner.calls[0].index)
}

func TestExecute_PanicStillTearsDown(t *testing.T) {
	h := newHarness(t)
	h.runner.panics = true
	paths := seed(t, h.root, "SETUP", "m1")

	var ended *domain.TrialResult
	exec := h.executor(scheduler.WithExecutorHooks(domain.LifecycleHooks{
		OnTrialEnd: func(ctx context.Context, e *domain.TrialEvent) {
			h.rec.add("end")
			ended = e.Result
		},
	}))

	assert.PanicsWithValue(t, "dialect exploded", func() {
		_, _ = exec.Execute(context.Background(), domain.Trial{Index: 1, State: "SETUP", Path: paths[0]})
	})

	assert.Equal(t, []string{"start", "run", "stop", "claim", "consume", "record", "end"}, h.rec.list())
	require.NotNil(t, ended)
	assert.Equal(t, domain.OutcomeAborted, ended.Outcome)
	assert.ErrorContains(t, ended.Err, "dialect exploded")
	assert.NoFileExists(t, paths[0])
	consumed, err := h.ledger.Consumed(context.Background(), paths[0])
	require.NoError(t, err)
	assert.True(t, consumed)
}

func TestBaseline_PanicStillTearsDown(t *testing.T) {
	h := newHarness(t)
	h.runner.panics = true

	assert.Panics(t, func() {
		_, _ = h.executor().Baseline(context.Background(), 1, "mp3")
	})
	assert.Equal(t, []string{"start", "baseline", "stop", "claim"}, h.rec.list())
	assert.Equal(t, []string{"SETUP_mp3"}, h.launcher.starts())
}

func TestExecute_MissingMutationFile(t *testing.T) {
	h := newHarness(t)
	exec := h.executor()
	missing := filepath.Join(h.root, "SETUP", "gone.raw")

	res, err := exec.Execute(context.Background(), domain.Trial{Index: 1, State: "SETUP", Path: missing})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeMissingMutationFile, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrMissingMutation)
	assert.Empty(t, h.launcher.starts(), "no server for a vanished file")
	assert.Equal(t, []string{"consume", "record"}, h.rec.list())

	consumed, err := h.ledger.Consumed(context.Background(), missing)
	require.NoError(t, err)
	assert.True(t, consumed)
}

func TestExecute_StartFailure(t *testing.T) {
	h := newHarness(t)
	h.launcher.err = domain.ErrNotReady
	paths := seed(t, h.root, "PLAY", "m1")

	res, err := h.executor().Execute(context.Background(), domain.Trial{Index: 2, State: "PLAY", Path: paths[0]})
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeStartFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, domain.ErrNotReady)
	assert.Empty(t, h.runner.calls, "driver never runs against a server that did not start")
	assert.Equal(t, []string{"start", "stop", "claim", "consume", "record"}, h.rec.list())
	assert.NoFileExists(t, paths[0])
}

func TestExecute_Preserve(t *testing.T) {
	h := newHarness(t)
	paths := seed(t, h.root, "SETUP", "m1")

	res, err := h.executor(scheduler.WithPreserve(true)).Execute(context.Background(), domain.Trial{Index: 1, State: "SETUP", Path: paths[0]})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCompleted, res.Outcome)
	assert.FileExists(t, paths[0])
	assert.Empty(t, h.ledger.Records())
}

func TestRun_EmptyCorpusStartsNoServer(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(h.executor(), scheduler.WithBudget(scheduler.Budget{Duration: 100 * time.Millisecond}))

	report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scheduler.StopDuration, report.StopReason)
	assert.Zero(t, report.Stats.Trials)
	assert.Empty(t, h.launcher.starts())
	assert.Len(t, report.Remaining, 3)
	for _, r := range report.Remaining {
		assert.Zero(t, r.Files)
	}
}

func TestRun_ConsumesEveryFileOnce(t *testing.T) {
	h := newHarness(t)
	setup := seed(t, h.root, "SETUP", "a", "b")
	play := seed(t, h.root, "PLAY", "c")

	s := h.scheduler(h.executor(), scheduler.WithBudget(scheduler.Budget{MaxTrials: 3}))
	report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, scheduler.StopTrials, report.StopReason)
	assert.Equal(t, 3, report.Stats.Trials)
	assert.Equal(t, 3, report.Stats.ByOutcome[domain.OutcomeCompleted])
	assert.Equal(t, 3, report.Stats.Coverage)
	assert.Equal(t, []call{
		{index: 1, payload: "payload-a"},
		{index: 1, payload: "payload-b"},
		{index: 2, payload: "payload-c"},
	}, h.runner.calls)

	for _, p := range append(setup, play...) {
		assert.NoFileExists(t, p)
	}
	assert.Len(t, h.launcher.starts(), 3, "one fresh server per trial")
}

func TestRun_SkipsConsumedEvenIfDeleteFailed(t *testing.T) {
	h := newHarness(t)
	paths := seed(t, h.root, "SETUP", "a", "b")
	require.NoError(t, h.ledger.Ledger.Record(context.Background(), domain.TrialRecord{
		Path: paths[0], Pair: domain.PairKey{State: "SETUP"}, Outcome: domain.OutcomeCompleted,
	}))

	s := h.scheduler(h.executor(), scheduler.WithBudget(scheduler.Budget{MaxTrials: 1}))
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.runner.calls, 1)
	assert.Equal(t, "payload-b", h.runner.calls[0].payload)
	assert.FileExists(t, paths[0], "already consumed files are never replayed")
}

func TestRun_QuotaResets(t *testing.T) {
	h := newHarness(t)
	seed(t, h.root, "SETUP", "a", "b", "c")

	tr := domain.NewTranscript([2]string{"SETUP", "200"})
	exec := scheduler.NewExecutor(tr, h.corpus, h.ledger, h.launcher, h.runner)
	s := scheduler.New(tr, h.corpus, h.ledger, exec,
		scheduler.WithQuota(2),
		scheduler.WithPoll(5*time.Millisecond),
		scheduler.WithBudget(scheduler.Budget{MaxTrials: 3}),
	)

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Stats.Trials)

	count, err := h.ledger.PairCount(context.Background(), domain.PairKey{State: "SETUP"})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "counter reset at the cap and the pair stayed eligible")
}

func TestRun_MediaVariants(t *testing.T) {
	h := newHarness(t)
	seed(t, h.root, filepath.Join("mp3", "SETUP"), "x")
	seed(t, h.root, filepath.Join("aac", "SETUP"), "y")

	s := h.scheduler(h.executor(),
		scheduler.WithMedias("mp3", "aac"),
		scheduler.WithBudget(scheduler.Budget{MaxTrials: 2}),
	)
	report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.ByPair["SETUP/mp3"])
	assert.Equal(t, 1, report.Stats.ByPair["SETUP/aac"])
	assert.Equal(t, "mp3", h.runner.calls[0].media)
	assert.Equal(t, "aac", h.runner.calls[1].media)
	assert.Len(t, report.Remaining, 6)
}

func TestRun_BreakerPausesInsteadOfBurningFiles(t *testing.T) {
	h := newHarness(t)
	h.launcher.err = domain.ErrNotReady
	paths := seed(t, h.root, "SETUP", "a", "b", "c", "d", "e")

	exec := h.executor(scheduler.WithBreaker(scheduler.BreakerSettings{MaxFailures: 2, Cooldown: time.Minute}))
	s := h.scheduler(exec)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	report, err := s.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, scheduler.StopInterrupted, report.StopReason)
	assert.Equal(t, 2, report.Stats.ByOutcome[domain.OutcomeStartFailure])
	assert.Len(t, h.launcher.starts(), 2)
	assert.True(t, exec.Paused())
	for _, p := range paths[2:] {
		assert.FileExists(t, p)
	}
}

func TestRun_LockFailureStopsRun(t *testing.T) {
	h := newHarness(t)
	paths := seed(t, h.root, "SETUP", "a")

	exec := h.executor(scheduler.WithLocker(failingLocker{}, "127.0.0.1:8554", time.Second))
	report, err := h.scheduler(exec).Run(context.Background())

	assert.ErrorIs(t, err, domain.ErrLockAcquire)
	assert.Empty(t, h.launcher.starts())
	assert.Zero(t, report.Stats.Trials)
	assert.FileExists(t, paths[0], "a trial that never ran is not consumed")
}

func TestRun_LockerSerializesLaunches(t *testing.T) {
	h := newHarness(t)
	seed(t, h.root, "SETUP", "a", "b")

	exec := h.executor(scheduler.WithLocker(memory.NewLocker(), "127.0.0.1:8554", time.Second))
	report, err := h.scheduler(exec, scheduler.WithBudget(scheduler.Budget{MaxTrials: 2})).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.Trials)
}

func TestRun_WakesOnCorpusChange(t *testing.T) {
	h := newHarness(t)
	wake := make(chan struct{}, 1)

	s := h.scheduler(h.executor(),
		scheduler.WithPoll(time.Hour),
		scheduler.WithWake(wake),
		scheduler.WithBudget(scheduler.Budget{MaxTrials: 1}),
	)

	go func() {
		time.Sleep(50 * time.Millisecond)
		dir := filepath.Join(h.root, "PLAY")
		_ = os.MkdirAll(dir, 0755)
		_ = os.WriteFile(filepath.Join(dir, "late.raw"), []byte("payload-late"), 0644)
		wake <- struct{}{}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	report, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StopTrials, report.StopReason)
	assert.Equal(t, 1, report.Stats.ByPair["PLAY"])
}

func TestRun_RateLimited(t *testing.T) {
	h := newHarness(t)
	seed(t, h.root, "SETUP", "a", "b", "c")

	s := h.scheduler(h.executor(),
		scheduler.WithRate(20),
		scheduler.WithBudget(scheduler.Budget{MaxTrials: 3}),
	)
	start := time.Now()
	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond, "three trials at 20/s take at least two intervals")
}

func TestRun_EmptyTranscript(t *testing.T) {
	h := newHarness(t)
	s := scheduler.New(nil, h.corpus, h.ledger, h.executor())
	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrTranscript)
}

func TestRunBaseline(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(h.executor())

	results, err := s.RunBaseline(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"OPTIONS", "SETUP", "PLAY"}, h.launcher.starts())
	for i, res := range results {
		assert.Equal(t, i, res.Trial.Index)
		assert.Equal(t, res.Trial.State+".sancov", res.Coverage)
	}
	assert.Empty(t, h.ledger.Records(), "baseline consumes nothing")
}

func TestRunOne(t *testing.T) {
	h := newHarness(t)
	paths := seed(t, h.root, "SETUP", "m1")
	s := h.scheduler(h.executor(scheduler.WithPreserve(true)))

	res, err := s.RunOne(context.Background(), domain.Trial{Index: 1, Path: paths[0]})
	require.NoError(t, err)
	assert.Equal(t, "SETUP", res.Trial.State)
	assert.Equal(t, domain.OutcomeCompleted, res.Outcome)
	assert.FileExists(t, paths[0])

	_, err = s.RunOne(context.Background(), domain.Trial{Index: 7, Path: paths[0]})
	assert.ErrorIs(t, err, domain.ErrTranscript)
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t)
	seed(t, h.root, "SETUP", "a")
	s := h.scheduler(h.executor(), scheduler.WithRunID("run-1"), scheduler.WithBudget(scheduler.Budget{MaxTrials: 1}))

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, 1, snap.Stats.Trials)
	assert.Equal(t, scheduler.StopTrials, snap.StopReason)
}
