// Package config loads the harness configuration file and applies defaults.
//
// The file is YAML; JSON files load through the same decoder. Durations are
// written as Go duration strings ("100ms", "2s").
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/replayfuzz/pkg/adapters/process"
	"github.com/aretw0/replayfuzz/pkg/domain"
	"github.com/aretw0/replayfuzz/pkg/protocol"
	"github.com/aretw0/replayfuzz/pkg/scheduler"
)

// DefaultPath is read when no --config flag is given and the file exists.
const DefaultPath = "replayfuzz.yaml"

// ErrInvalid is returned when the configuration cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config is the whole harness configuration.
type Config struct {
	Target     TargetConfig     `yaml:"target"`
	Protocol   ProtocolConfig   `yaml:"protocol"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Store      StoreConfig      `yaml:"store"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Coverage   CoverageConfig   `yaml:"coverage"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Status     StatusConfig     `yaml:"status"`
	Log        LogConfig        `yaml:"log"`
}

// TargetConfig describes the server under test and how to talk to it.
type TargetConfig struct {
	process.Target `yaml:",inline"`

	Preset      string `yaml:"preset"`
	TargetsFile string `yaml:"targets_file"`

	StopTimeout    time.Duration `yaml:"stop_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Pace           time.Duration `yaml:"pace"`
	RecoverDelay   time.Duration `yaml:"recover_delay"`
	BufferSize     int           `yaml:"buffer_size"`

	Readiness ReadinessConfig `yaml:"readiness"`
	LogDir    string          `yaml:"log_dir"`
	Lock      LockConfig      `yaml:"lock"`
}

// ReadinessConfig holds the two readiness profiles.
type ReadinessConfig struct {
	Fast     process.Readiness `yaml:"fast"`
	Thorough process.Readiness `yaml:"thorough"`
}

// LockConfig guards the target address across harness processes.
type LockConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

type ProtocolConfig struct {
	Kind     string         `yaml:"kind"`
	Options  map[string]any `yaml:"options"`
	Validate bool           `yaml:"validate"`
	Closing  string         `yaml:"closing"`
}

type TranscriptConfig struct {
	Path    string     `yaml:"path"`
	OnError string     `yaml:"on_error"`
	Default [][]string `yaml:"default"`
}

type StoreConfig struct {
	Dir string `yaml:"dir"`
}

type CorpusConfig struct {
	Root   string   `yaml:"root"`
	Medias []string `yaml:"medias"`
	Ext    string   `yaml:"ext"`
	Watch  bool     `yaml:"watch"`
}

type CoverageConfig struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
}

type SchedulerConfig struct {
	Policy  string          `yaml:"policy"`
	Pin     int             `yaml:"pin"`
	Picker  string          `yaml:"picker"`
	Quota   int             `yaml:"quota"`
	Budget  BudgetConfig    `yaml:"budget"`
	Seed    uint64          `yaml:"seed"`
	Poll    time.Duration   `yaml:"poll"`
	Rate    float64         `yaml:"max_trials_per_second"`
	Breaker BreakerSettings `yaml:"breaker"`
}

type BudgetConfig struct {
	Duration  time.Duration `yaml:"duration"`
	MaxTrials int           `yaml:"max_trials"`
}

type BreakerSettings struct {
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// LedgerConfig selects where consumed trials and quota counters live.
type LedgerConfig struct {
	Kind  string      `yaml:"kind"`
	Path  string      `yaml:"path"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type StatusConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the configuration used for every field the file leaves out.
// The values match a live555 RTSP setup.
func Default() Config {
	return Config{
		Target: TargetConfig{
			Target: process.Target{
				Addr:        "127.0.0.1:8554",
				CoverageEnv: process.DefaultCoverageEnv,
			},
			StopTimeout:    5 * time.Second,
			ConnectTimeout: 2 * time.Second,
			ReadTimeout:    time.Second,
			RecoverDelay:   200 * time.Millisecond,
			Readiness: ReadinessConfig{
				Fast:     process.FastReadiness(),
				Thorough: process.ThoroughReadiness(),
			},
			Lock: LockConfig{TTL: time.Minute},
		},
		Protocol:   ProtocolConfig{Kind: "rtsp"},
		Transcript: TranscriptConfig{OnError: "default"},
		Store:      StoreConfig{Dir: "messages"},
		Corpus:     CorpusConfig{Root: "mutations", Ext: ".raw"},
		Coverage:   CoverageConfig{Dir: "coverage", Pattern: "*.sancov"},
		Scheduler: SchedulerConfig{
			Policy: string(scheduler.KindRoundRobin),
			Quota:  scheduler.DefaultQuota,
			Poll:   scheduler.DefaultPoll,
			Breaker: BreakerSettings{
				MaxFailures: 5,
				Cooldown:    30 * time.Second,
			},
		},
		Ledger: LedgerConfig{
			Kind: "file",
			Path: ".replayfuzz/ledger.json",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "replayfuzz:",
			},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, resolves the target preset and validates.
// An empty path, or the default path when it does not exist, yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return cfg, fmt.Errorf("%w: failed to read %s: %v", ErrInvalid, path, err)
	}

	if err := cfg.ResolvePreset(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ResolvePreset fills empty target fields from the named preset.
func (c *Config) ResolvePreset() error {
	if c.Target.Preset == "" {
		return nil
	}
	targets, err := process.LoadTargets(c.Target.TargetsFile)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	p, ok := targets[c.Target.Preset]
	if !ok {
		return fmt.Errorf("%w: target preset %q not found in %q", ErrInvalid, c.Target.Preset, c.Target.TargetsFile)
	}

	t := &c.Target.Target
	if t.Command == "" {
		t.Command = p.Command
	}
	if len(t.Args) == 0 {
		t.Args = p.Args
	}
	if t.Dir == "" {
		t.Dir = p.Dir
	}
	if len(t.Environment) == 0 {
		t.Environment = p.Environment
	}
	if t.StopSignal == "" {
		t.StopSignal = p.StopSignal
	}
	if p.Addr != "" && (t.Addr == "" || t.Addr == Default().Target.Addr) {
		t.Addr = p.Addr
	}
	if p.CoverageEnv != "" && (t.CoverageEnv == "" || t.CoverageEnv == process.DefaultCoverageEnv) {
		t.CoverageEnv = p.CoverageEnv
	}
	if p.CoveragePattern != "" && (c.Coverage.Pattern == "" || c.Coverage.Pattern == Default().Coverage.Pattern) {
		c.Coverage.Pattern = p.CoveragePattern
	}
	if p.Protocol != "" && (c.Protocol.Kind == "" || c.Protocol.Kind == Default().Protocol.Kind) {
		c.Protocol.Kind = p.Protocol
	}
	t.Name = p.Name
	t.Description = p.Description
	return nil
}

// Validate checks everything a run needs. needLauncher is false for commands that
// never start a server.
func (c *Config) Validate(needLauncher bool) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Target.Addr == "" {
		add("target.addr is required")
	}
	if needLauncher && c.Target.Command == "" {
		add("target.command is required (or target.preset)")
	}
	if _, err := process.ParseSignal(c.Target.StopSignal); err != nil {
		add("target.stop_signal: %v", err)
	}
	if _, err := c.Dialect(); err != nil {
		add("protocol: %v", err)
	}
	switch c.Transcript.OnError {
	case "default", "abort":
	default:
		add("transcript.on_error must be default or abort, got %q", c.Transcript.OnError)
	}
	for i, pair := range c.Transcript.Default {
		if len(pair) != 2 || pair[0] == "" {
			add("transcript.default[%d] must be [state, expect]", i)
		}
	}
	if c.Corpus.Root == "" {
		add("corpus.root is required")
	}
	if c.Scheduler.Quota <= 0 {
		add("scheduler.quota must be positive")
	}
	switch scheduler.Kind(c.Scheduler.Policy) {
	case scheduler.KindRoundRobin, scheduler.KindWeighted, scheduler.KindLength, scheduler.KindUniform:
	default:
		add("scheduler.policy %q is unknown", c.Scheduler.Policy)
	}
	switch scheduler.PickerKind(c.Scheduler.Picker) {
	case "", scheduler.PickerBatch, scheduler.PickerRandom:
	default:
		add("scheduler.picker %q is unknown", c.Scheduler.Picker)
	}
	if c.Scheduler.Rate < 0 {
		add("scheduler.max_trials_per_second must not be negative")
	}
	switch c.Ledger.Kind {
	case "memory", "file":
	case "redis":
		if c.Ledger.Redis.Addr == "" {
			add("ledger.redis.addr is required")
		}
	default:
		add("ledger.kind must be memory, file or redis, got %q", c.Ledger.Kind)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Dialect builds the configured protocol dialect.
func (c *Config) Dialect() (protocol.Dialect, error) {
	return protocol.New(c.Protocol.Kind, c.Protocol.Options)
}

// DefaultTranscript is the configured fallback, or nil when none is configured.
func (c *Config) DefaultTranscript() domain.Transcript {
	if len(c.Transcript.Default) == 0 {
		return nil
	}
	tr := make(domain.Transcript, 0, len(c.Transcript.Default))
	for _, pair := range c.Transcript.Default {
		t := domain.Transition{State: pair[0]}
		if len(pair) > 1 {
			t.Expect = pair[1]
		}
		tr = append(tr, t)
	}
	return tr
}

// Medias returns the media variants to fuzz; a media-less corpus is one empty variant.
func (c *Config) Medias() []string {
	if len(c.Corpus.Medias) == 0 {
		return []string{""}
	}
	return c.Corpus.Medias
}
