package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/groupsweep/internal/agent"
	"github.com/user/groupsweep/internal/config"
	"github.com/user/groupsweep/internal/stepchan"
	"github.com/user/groupsweep/internal/worker"
	"github.com/user/groupsweep/internal/workspace"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the step worker loop",
	Long: `Run the step worker. It polls the artifacts directory for step requests,
executes each one through the browsing agent, and reports results back.
Normally started by the controller session, but can run standalone.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	// The controller scans this process's output for readiness, so log to
	// stdout like the rest of the CLI.
	logger := newLogger(os.Stdout)

	cfg, cfgPath, err := loadOrCreateConfig(cmd, logger)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	artifacts := resolveArtifactsRoot(cfg, cfgPath)
	if err := workspace.Initialize(artifacts); err != nil {
		return fmt.Errorf("failed to initialize artifacts directory: %w", err)
	}

	ag, err := agent.NewExec(cfg.Agent.Cmd, envList(cfg.Agent.Env), logger)
	if err != nil {
		return err
	}

	channel := stepchan.New(artifacts, logger)
	w := worker.New(channel, ag, cfg.Agent.Budget, logger)
	w.SetPollInterval(cfg.Steps.PollInterval())

	// The worker can start before the automation server; steps will fail
	// until it is up, so a negative probe is only worth a warning.
	probeServer(cfg, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func probeServer(cfg *config.Config, logger *slog.Logger) {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Server.Port, cfg.Server.HealthPath)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		logger.Warn("automation server is not answering; start it before submitting steps", "url", url)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn("automation server health check returned an unexpected status", "url", url, "status", resp.StatusCode)
	}
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
