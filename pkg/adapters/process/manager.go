package process

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aretw0/replayfuzz/internal/logging"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/ports"
)

// DefaultCoverageEnv is the sanitizer configuration that makes the server dump
// coverage into the coverage directory when it exits.
const DefaultCoverageEnv = "ASAN_OPTIONS=coverage=1:coverage_dir={{dir}}:verbosity=1"

// Readiness controls how long Start waits for the server to accept connections.
type Readiness struct {
	Grace       time.Duration `yaml:"grace" json:"grace"`
	Attempts    int           `yaml:"attempts" json:"attempts"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	Interval    time.Duration `yaml:"interval" json:"interval"`
}

// FastReadiness is tuned for the fuzzing loop, where start latency dominates throughput.
func FastReadiness() Readiness {
	return Readiness{Grace: 100 * time.Millisecond, Attempts: 1, DialTimeout: 10 * time.Millisecond}
}

// ThoroughReadiness is tuned for one-shot runs on slow hosts.
func ThoroughReadiness() Readiness {
	return Readiness{Grace: 2 * time.Second, Attempts: 20, DialTimeout: 200 * time.Millisecond, Interval: 200 * time.Millisecond}
}

// Manager boots fresh server instances. It implements ports.Launcher.
type Manager struct {
	addr        string
	command     string
	args        []string
	dir         string
	env         map[string]string
	coverageDir string
	coverageEnv string
	readiness   Readiness
	stopSignal  os.Signal
	stopTimeout time.Duration
	killTimeout time.Duration
	logDir      string
	logger      *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithArgs sets the server arguments.
func WithArgs(args ...string) Option {
	return func(m *Manager) {
		m.args = args
	}
}

// WithDir sets the working directory of the server.
func WithDir(dir string) Option {
	return func(m *Manager) {
		m.dir = dir
	}
}

// WithEnv adds variables to the server environment.
func WithEnv(env map[string]string) Option {
	return func(m *Manager) {
		for k, v := range env {
			m.env[k] = v
		}
	}
}

// WithCoverage sets the coverage directory and the KEY=VALUE template pointing the
// server at it. "{{dir}}" in the template is replaced by the absolute directory.
func WithCoverage(dir, envTemplate string) Option {
	return func(m *Manager) {
		m.coverageDir = dir
		m.coverageEnv = envTemplate
	}
}

// WithReadiness sets the readiness profile.
func WithReadiness(r Readiness) Option {
	return func(m *Manager) {
		m.readiness = r
	}
}

// WithStopSignal sets the signal used for graceful termination.
func WithStopSignal(sig os.Signal) Option {
	return func(m *Manager) {
		m.stopSignal = sig
	}
}

// WithStopTimeout bounds the wait after the stop signal before killing.
func WithStopTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.stopTimeout = d
	}
}

// WithLogDir captures server stdout and stderr into one file per instance.
func WithLogDir(dir string) Option {
	return func(m *Manager) {
		m.logDir = dir
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a lifecycle manager for the server command listening on addr.
func NewManager(addr, command string, opts ...Option) *Manager {
	m := &Manager{
		addr:        addr,
		command:     command,
		env:         make(map[string]string),
		coverageEnv: DefaultCoverageEnv,
		readiness:   FastReadiness(),
		stopSignal:  syscall.SIGTERM,
		stopTimeout: 5 * time.Second,
		killTimeout: 2 * time.Second,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FromTarget creates a manager from a preset. Explicit opts override the preset.
func FromTarget(t Target, opts ...Option) (*Manager, error) {
	sig, err := ParseSignal(t.StopSignal)
	if err != nil {
		return nil, err
	}
	base := []Option{WithArgs(t.Args...), WithDir(t.Dir), WithEnv(t.Environment), WithStopSignal(sig)}
	m := NewManager(t.Addr, t.Command, append(base, opts...)...)
	if t.CoverageEnv != "" {
		m.coverageEnv = t.CoverageEnv
	}
	return m, nil
}

// Addr returns the address the server listens on.
func (m *Manager) Addr() string {
	return m.addr
}

// Start boots a server and waits until it accepts connections.
// Errors wrap domain.ErrPortInUse, domain.ErrLaunchFailure or domain.ErrNotReady.
// The returned handle is never nil; on error it is already stopped.
func (m *Manager) Start(ctx context.Context, label string) (ports.ServerHandle, error) {
	stopped := &Handle{exited: closedChan()}

	if m.coverageDir != "" {
		if err := os.MkdirAll(m.coverageDir, 0755); err != nil {
			return stopped, fmt.Errorf("%w: coverage dir: %v", domain.ErrLaunchFailure, err)
		}
	}

	if m.listening(m.probeTimeout()) {
		return stopped, fmt.Errorf("%s: %w", m.addr, domain.ErrPortInUse)
	}

	cmd := exec.Command(m.command, m.args...)
	cmd.Dir = m.dir
	env, err := m.environ()
	if err != nil {
		return stopped, fmt.Errorf("%w: %v", domain.ErrLaunchFailure, err)
	}
	cmd.Env = env

	var logFile *os.File
	if m.logDir != "" {
		logFile, err = m.openLog(label)
		if err != nil {
			m.logger.Warn("Server output will not be captured", "err", err)
		} else {
			cmd.Stdout = logFile
			cmd.Stderr = logFile
		}
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return stopped, fmt.Errorf("%w: %s: %v", domain.ErrLaunchFailure, m.command, err)
	}

	h := &Handle{
		cmd:         cmd,
		pid:         cmd.Process.Pid,
		exited:      make(chan struct{}),
		signal:      m.stopSignal,
		stopTimeout: m.stopTimeout,
		killTimeout: m.killTimeout,
		logger:      m.logger,
	}
	go func() {
		h.waitErr = cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
		close(h.exited)
	}()

	m.logger.Debug("Server launched", "pid", h.pid, "label", label)

	if err := m.awaitReady(ctx, h); err != nil {
		if stopErr := h.Stop(); stopErr != nil {
			m.logger.Warn("Failed to stop unready server", "pid", h.pid, "err", stopErr)
		}
		return h, err
	}
	return h, nil
}

func (m *Manager) awaitReady(ctx context.Context, h *Handle) error {
	r := m.readiness
	if err := sleep(ctx, r.Grace); err != nil {
		return fmt.Errorf("%w: interrupted: %w", domain.ErrNotReady, err)
	}

	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if h.Exited() {
			return fmt.Errorf("%w: server exited during startup: %v", domain.ErrNotReady, h.ExitErr())
		}
		if m.listening(m.probeTimeout()) {
			return nil
		}
		if i < attempts-1 {
			if err := sleep(ctx, r.Interval); err != nil {
				return fmt.Errorf("%w: interrupted: %w", domain.ErrNotReady, err)
			}
		}
	}
	return fmt.Errorf("%w: %s refused %d attempts", domain.ErrNotReady, m.addr, attempts)
}

func (m *Manager) probeTimeout() time.Duration {
	if m.readiness.DialTimeout > 0 {
		return m.readiness.DialTimeout
	}
	return 100 * time.Millisecond
}

func (m *Manager) listening(timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", m.addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (m *Manager) environ() ([]string, error) {
	env := os.Environ()
	if m.coverageDir != "" && m.coverageEnv != "" {
		abs, err := filepath.Abs(m.coverageDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve coverage dir: %w", err)
		}
		env = append(env, strings.ReplaceAll(m.coverageEnv, "{{dir}}", abs))
	}

	keys := make([]string, 0, len(m.env))
	for k := range m.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+m.env[k])
	}
	return env, nil
}

func (m *Manager) openLog(label string) (*os.File, error) {
	if err := os.MkdirAll(m.logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", label, time.Now().Format("20060102_150405"))
	return os.OpenFile(filepath.Join(m.logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Ensure Manager implements ports.Launcher
var _ ports.Launcher = (*Manager)(nil)
