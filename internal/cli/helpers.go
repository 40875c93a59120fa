package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/groupsweep/internal/config"
)

// loadOrCreateConfig resolves the config: explicit flag first, then a walk
// up the directory tree, then a generated default in the current directory.
func loadOrCreateConfig(cmd *cobra.Command, logger *slog.Logger) (*config.Config, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}

	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, "", err
		}
		return cfg, configPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current directory: %w", err)
	}

	if foundPath, err := config.Find(cwd); err == nil {
		logger.Info("found existing config", "path", foundPath)
		cfg, err := config.LoadFromFile(foundPath)
		if err != nil {
			return nil, "", err
		}
		return cfg, foundPath, nil
	}

	defaultPath := filepath.Join(cwd, config.FileName)
	logger.Info("no config found, creating default", "path", defaultPath)

	cfg := config.GenerateDefault()
	if err := cfg.SaveToFile(defaultPath); err != nil {
		return nil, "", fmt.Errorf("failed to save default config: %w", err)
	}
	return cfg, defaultPath, nil
}

// resolveArtifactsRoot resolves the artifacts directory relative to the
// directory containing the config file.
func resolveArtifactsRoot(cfg *config.Config, configPath string) string {
	if filepath.IsAbs(cfg.Artifacts) {
		return cfg.Artifacts
	}
	return filepath.Join(filepath.Dir(configPath), cfg.Artifacts)
}

func newLogger(w *os.File) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func isTerminalFile(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
