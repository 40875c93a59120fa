// Package config loads and validates the groupsweep.yaml configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file groupsweep looks for.
const FileName = "groupsweep.yaml"

// Config represents the groupsweep.yaml configuration file.
type Config struct {
	Version   string `yaml:"version"`
	Artifacts string `yaml:"artifacts"`
	Server    Server `yaml:"server"`
	Worker    Worker `yaml:"worker"`
	Agent     Agent  `yaml:"agent"`
	Steps     Steps  `yaml:"steps"`
}

// Server configures the automation server the agent drives.
type Server struct {
	Cmd             []string          `yaml:"cmd"`
	Env             map[string]string `yaml:"env,omitempty"`
	Port            int               `yaml:"port"`
	HealthPath      string            `yaml:"health_path,omitempty"`
	StartupTimeoutS int               `yaml:"startup_timeout_s,omitempty"`
}

// Worker configures the step executor process.
type Worker struct {
	Cmd         []string          `yaml:"cmd"`
	Env         map[string]string `yaml:"env,omitempty"`
	ReadyMarker string            `yaml:"ready_marker,omitempty"`
}

// Agent configures the browsing agent the worker spawns per step.
type Agent struct {
	Cmd    []string          `yaml:"cmd"`
	Env    map[string]string `yaml:"env,omitempty"`
	Budget int               `yaml:"budget,omitempty"`
}

// Steps configures the channel poll loop.
type Steps struct {
	PollIntervalMs int `yaml:"poll_interval_ms,omitempty"`
	TimeoutS       int `yaml:"timeout_s,omitempty"`
}

// GenerateDefault returns a config with working defaults the operator can
// edit down.
func GenerateDefault() *Config {
	return &Config{
		Version:   "1.0",
		Artifacts: "artifacts",
		Server: Server{
			Cmd:             []string{"chat-automation-server"},
			Port:            8765,
			HealthPath:      "/status",
			StartupTimeoutS: 30,
		},
		Worker: Worker{
			Cmd: []string{"groupsweep", "worker"},
		},
		Agent: Agent{
			Cmd:    []string{"browser-agent"},
			Budget: 25,
		},
		Steps: Steps{
			PollIntervalMs: 500,
			TimeoutS:       300,
		},
	}
}

// Validate checks the configuration and returns operator-friendly errors.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  version: \"1.0\"")
	}
	if c.Artifacts == "" {
		return fmt.Errorf("configuration error: missing required field 'artifacts'\n\nHint: Point it at the shared artifacts directory:\n  artifacts: artifacts")
	}
	if len(c.Server.Cmd) == 0 {
		return fmt.Errorf("configuration error: 'server.cmd' is empty\n\nHint: Specify the automation server command:\n  server:\n    cmd: [\"chat-automation-server\"]")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("configuration error: invalid 'server.port' value: %d\n\nHint: Use the TCP port the automation server listens on:\n  server:\n    port: 8765", c.Server.Port)
	}
	if len(c.Worker.Cmd) == 0 {
		return fmt.Errorf("configuration error: 'worker.cmd' is empty\n\nHint: Specify the worker command:\n  worker:\n    cmd: [\"groupsweep\", \"worker\"]")
	}
	if len(c.Agent.Cmd) == 0 {
		return fmt.Errorf("configuration error: 'agent.cmd' is empty\n\nHint: Specify the browsing agent command:\n  agent:\n    cmd: [\"browser-agent\"]")
	}
	if c.Agent.Budget < 0 {
		return fmt.Errorf("configuration error: 'agent.budget' must not be negative")
	}
	if c.Steps.PollIntervalMs < 0 || c.Steps.TimeoutS < 0 {
		return fmt.Errorf("configuration error: step intervals must not be negative")
	}
	return nil
}

// StartupTimeout returns the server startup timeout as a duration.
func (s Server) StartupTimeout() time.Duration {
	if s.StartupTimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.StartupTimeoutS) * time.Second
}

// PollInterval returns the step poll interval as a duration.
func (s Steps) PollInterval() time.Duration {
	if s.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// Timeout returns the step await timeout as a duration.
func (s Steps) Timeout() time.Duration {
	if s.TimeoutS <= 0 {
		return 300 * time.Second
	}
	return time.Duration(s.TimeoutS) * time.Second
}

// LoadFromFile loads a configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveToFile writes the configuration as YAML with 0600 permissions.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// Find walks from dir upward looking for the configuration file. Returns
// the path of the first hit.
func Find(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found in %s or any parent directory", FileName, dir)
		}
		dir = parent
	}
}
