// Package workspace manages the artifacts directory layout shared by the
// controller and the worker.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// RequiredDirectories returns the subdirectories every artifacts root holds.
func RequiredDirectories() []string {
	return []string{
		"state",    // state/workflow.json (persisted workflow snapshot)
		"logs",     // logs/run-<id>.ndjson (append-only audit ledger)
		"captures", // captures/*.png (agent screenshots)
	}
}

// Initialize creates the artifacts root and its required subdirectories with
// 0700 permissions. Safe to call repeatedly.
func Initialize(artifactsRoot string) error {
	for _, dir := range RequiredDirectories() {
		path := filepath.Join(artifactsRoot, dir)
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// IsInitialized reports whether the artifacts root has all required
// subdirectories.
func IsInitialized(artifactsRoot string) (bool, error) {
	for _, dir := range RequiredDirectories() {
		path := filepath.Join(artifactsRoot, dir)

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to check directory %s: %w", path, err)
		}
		if !info.IsDir() {
			return false, nil
		}
	}
	return true, nil
}

// StateDir returns the directory holding persisted workflow state.
func StateDir(artifactsRoot string) string {
	return filepath.Join(artifactsRoot, "state")
}

// LogsDir returns the directory holding audit ledgers.
func LogsDir(artifactsRoot string) string {
	return filepath.Join(artifactsRoot, "logs")
}

// CapturesDir returns the directory holding agent screenshots.
func CapturesDir(artifactsRoot string) string {
	return filepath.Join(artifactsRoot, "captures")
}
