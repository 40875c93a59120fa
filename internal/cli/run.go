package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/groupsweep/internal/coordinator"
	"github.com/user/groupsweep/internal/eventlog"
	"github.com/user/groupsweep/internal/state"
	"github.com/user/groupsweep/internal/stepchan"
	"github.com/user/groupsweep/internal/supervisor"
	"github.com/user/groupsweep/internal/workspace"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive controller session",
	Long: `Start the interactive controller session. Each workflow step is triggered
by an operator command and its outcome is shown before the next one runs.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := newLogger(os.Stdout)

	cfg, cfgPath, err := loadOrCreateConfig(cmd, logger)
	if err != nil {
		return err
	}
	logger.Info("loaded configuration", "path", cfgPath)

	if err := cfg.Validate(); err != nil {
		return err
	}

	artifacts := resolveArtifactsRoot(cfg, cfgPath)
	if err := workspace.Initialize(artifacts); err != nil {
		return fmt.Errorf("failed to initialize artifacts directory: %w", err)
	}
	logger.Info("artifacts directory ready", "path", artifacts)

	runID := fmt.Sprintf("run-%s", uuid.New().String()[:8])
	events, err := eventlog.New(
		filepath.Join(workspace.LogsDir(artifacts), runID+".ndjson"),
		runID, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	channel := stepchan.New(artifacts, logger)
	channel.SetPollInterval(cfg.Steps.PollInterval())

	server := supervisor.NewServerSupervisor(supervisor.ServerConfig{
		Command:        cfg.Server.Cmd,
		Env:            cfg.Server.Env,
		Port:           cfg.Server.Port,
		HealthPath:     cfg.Server.HealthPath,
		StartupTimeout: cfg.Server.StartupTimeout(),
	}, logger)

	worker := supervisor.NewWorkerSupervisor(supervisor.WorkerConfig{
		Command:     cfg.Worker.Cmd,
		Env:         cfg.Worker.Env,
		ReadyMarker: cfg.Worker.ReadyMarker,
	}, logger)

	store := state.NewStore(state.DefaultPath(artifacts))

	s := &session{
		in:     cmd.InOrStdin(),
		out:    cmd.OutOrStdout(),
		tty:    isTerminalFile(os.Stdin),
		logger: logger,
		store:  store,
		server: server,
		worker: worker,
		events: events,
	}

	coord, err := coordinator.New(coordinator.Options{
		Store:     store,
		Channel:   channel,
		Confirmer: s,
		Worker:    worker,
		Events:    events,
		Logger:    logger,
		Timeout:   cfg.Steps.Timeout(),
	})
	if err != nil {
		return err
	}
	s.coord = coord

	return s.loop(cmd.Context())
}
