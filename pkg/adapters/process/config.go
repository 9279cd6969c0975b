package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"
)

// Target describes how to launch one instrumented server.
type Target struct {
	Name            string            `yaml:"name" json:"name"`
	Addr            string            `yaml:"addr" json:"addr"`
	Command         string            `yaml:"command" json:"command"`
	Args            []string          `yaml:"args" json:"args"`
	Dir             string            `yaml:"dir" json:"dir"`
	Environment     map[string]string `yaml:"env" json:"env"`
	CoverageEnv     string            `yaml:"coverage_env" json:"coverage_env"`
	CoveragePattern string            `yaml:"coverage_pattern" json:"coverage_pattern"`
	StopSignal      string            `yaml:"stop_signal" json:"stop_signal"`
	Protocol        string            `yaml:"protocol" json:"protocol"`
	Description     string            `yaml:"description" json:"description"`
}

// TargetsFile represents the structure of targets.yaml
type TargetsFile struct {
	Targets []Target `yaml:"targets" json:"targets"`
}

// LoadTargets reads a presets file (YAML or JSON) and returns targets by name.
// A missing file yields an empty map.
func LoadTargets(path string) (map[string]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Target{}, nil
		}
		return nil, fmt.Errorf("failed to read targets: %w", err)
	}

	var cfg TargetsFile
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	targets := make(map[string]Target)
	for _, t := range cfg.Targets {
		if t.Name == "" {
			continue
		}
		targets[t.Name] = t
	}

	return targets, nil
}

var signals = map[string]syscall.Signal{
	"SIGTERM": syscall.SIGTERM,
	"SIGINT":  syscall.SIGINT,
	"SIGKILL": syscall.SIGKILL,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
}

// ParseSignal resolves a signal name such as "SIGINT" or "int". Empty means SIGTERM.
func ParseSignal(name string) (os.Signal, error) {
	if name == "" {
		return syscall.SIGTERM, nil
	}
	key := strings.ToUpper(name)
	if !strings.HasPrefix(key, "SIG") {
		key = "SIG" + key
	}
	sig, ok := signals[key]
	if !ok {
		return nil, fmt.Errorf("unsupported stop signal %q", name)
	}
	return sig, nil
}
