package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, GenerateDefault().Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	cfg := GenerateDefault()
	cfg.Server.Port = 9001
	cfg.Agent.Budget = 50
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 9001, loaded.Server.Port)
	require.Equal(t, 50, loaded.Agent.Budget)
	require.Equal(t, cfg.Worker.Cmd, loaded.Worker.Cmd)
}

func TestLoadFromFileParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	doc := `version: "1.0"
artifacts: /tmp/sweep
server:
  cmd: ["chat-server", "--headless"]
  port: 8765
  startup_timeout_s: 10
worker:
  cmd: ["groupsweep", "worker"]
  ready_marker: "step requests"
agent:
  cmd: ["browser-agent"]
  env:
    BROWSER: firefox
  budget: 12
steps:
  poll_interval_ms: 250
  timeout_s: 120
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{"chat-server", "--headless"}, cfg.Server.Cmd)
	require.Equal(t, "step requests", cfg.Worker.ReadyMarker)
	require.Equal(t, "firefox", cfg.Agent.Env["BROWSER"])
	require.Equal(t, 250, cfg.Steps.PollIntervalMs)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing version", func(c *Config) { c.Version = "" }, "version"},
		{"missing artifacts", func(c *Config) { c.Artifacts = "" }, "artifacts"},
		{"empty server cmd", func(c *Config) { c.Server.Cmd = nil }, "server.cmd"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"empty worker cmd", func(c *Config) { c.Worker.Cmd = nil }, "worker.cmd"},
		{"empty agent cmd", func(c *Config) { c.Agent.Cmd = nil }, "agent.cmd"},
		{"negative budget", func(c *Config) { c.Agent.Budget = -1 }, "budget"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GenerateDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := GenerateDefault()
	require.Equal(t, cfg.Steps.PollInterval().Milliseconds(), int64(500))
	require.Equal(t, cfg.Steps.Timeout().Seconds(), float64(300))
	require.Equal(t, cfg.Server.StartupTimeout().Seconds(), float64(30))

	var zero Steps
	require.Equal(t, zero.PollInterval().Milliseconds(), int64(500))
}

func TestFindWalksUpward(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0700))
	cfgPath := filepath.Join(root, FileName)
	require.NoError(t, GenerateDefault().SaveToFile(cfgPath))

	found, err := Find(nested)
	require.NoError(t, err)
	require.Equal(t, cfgPath, found)
}

func TestFindMissing(t *testing.T) {
	_, err := Find(t.TempDir())
	require.Error(t, err)
}
