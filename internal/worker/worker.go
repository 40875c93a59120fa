// Package worker implements the step executor. It polls the shared channel
// directory for step requests, carries each one out through the browsing
// agent, and reports results back through the channel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/groupsweep/internal/agent"
	"github.com/user/groupsweep/internal/stepchan"
)

// Worker runs the step loop.
type Worker struct {
	channel      *stepchan.Channel
	agent        agent.Agent
	budget       int
	pollInterval time.Duration
	logger       *slog.Logger
}

// New constructs a worker. Budget caps the agent's interactions per step;
// zero leaves the agent's default in place.
func New(channel *stepchan.Channel, ag agent.Agent, budget int, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		channel:      channel,
		agent:        ag,
		budget:       budget,
		pollInterval: stepchan.DefaultPollInterval,
		logger:       logger,
	}
}

// SetPollInterval overrides the request poll interval. Tests use this to
// keep the loop fast.
func (w *Worker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Run polls for step requests until the context is cancelled. The readiness
// lines below are what the controller's supervisor scans for.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("step mode active")
	w.logger.Info("waiting for step requests")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		req, err := w.channel.Poll()
		switch {
		case err == nil:
			w.handle(ctx, req)
		case errors.Is(err, stepchan.ErrNoRequest):
			// Nothing to do this tick.
		default:
			// The malformed request was already consumed; report it so the
			// controller's await loop fails fast instead of timing out.
			w.logger.Warn("discarding malformed request", "error", err)
			if werr := w.channel.WriteError(err.Error()); werr != nil {
				w.logger.Error("failed to report malformed request", "error", werr)
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info("step loop stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// handle executes one request and writes the outcome to the channel.
func (w *Worker) handle(ctx context.Context, req *stepchan.Request) {
	w.logger.Info("executing step", "step", req.Step)

	if err := w.channel.MarkRunning(); err != nil {
		w.logger.Error("failed to mark step running", "error", err)
		return
	}

	instruction, err := w.buildInstruction(req)
	if err != nil {
		w.writeError(req.Step, err)
		return
	}

	res, err := w.agent.Run(ctx, instruction, w.budget)
	if err != nil {
		w.writeError(req.Step, err)
		return
	}

	out := &stepchan.Result{Text: res.Text, Screenshots: res.Screenshots}
	if err := w.channel.WriteResult(out); err != nil {
		w.logger.Error("failed to write result", "step", req.Step, "error", err)
		return
	}
	w.logger.Info("step complete", "step", req.Step, "screenshots", len(res.Screenshots))
}

func (w *Worker) buildInstruction(req *stepchan.Request) (string, error) {
	switch req.Step {
	case stepchan.StepClassify:
		return classifyInstruction(), nil
	case stepchan.StepReadMessages:
		return readInstruction(req.Params)
	case stepchan.StepRemove:
		return removeInstruction(req.Params)
	default:
		return "", fmt.Errorf("unknown step %q", req.Step)
	}
}

func (w *Worker) writeError(step string, stepErr error) {
	msg := fmt.Sprintf("step %s failed: %v", step, stepErr)
	w.logger.Warn("step failed", "step", step, "error", stepErr)
	if err := w.channel.WriteError(msg); err != nil {
		w.logger.Error("failed to write error status", "step", step, "error", err)
	}
}
