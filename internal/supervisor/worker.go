package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultReadyMarker is the line fragment the worker prints once it is
// polling for step requests.
const DefaultReadyMarker = "waiting for step requests"

// WorkerConfig describes the worker process.
type WorkerConfig struct {
	Command     []string
	Env         map[string]string
	ReadyMarker string
}

// WorkerSupervisor starts the worker, watches its output for the readiness
// marker, relays its log lines, and stops it on demand.
type WorkerSupervisor struct {
	cfg    WorkerConfig
	logger *slog.Logger

	mu       sync.Mutex
	process  *exec.Cmd
	state    State
	lines    chan string
	ready    chan struct{}
	scanDone chan struct{}
	exitChan chan error
	exited   bool
	exitErr  error
}

// NewWorkerSupervisor constructs a supervisor for the given worker config.
func NewWorkerSupervisor(cfg WorkerConfig, logger *slog.Logger) *WorkerSupervisor {
	if cfg.ReadyMarker == "" {
		cfg.ReadyMarker = DefaultReadyMarker
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerSupervisor{cfg: cfg, logger: logger, state: StateStopped}
}

// State returns the worker's last determined state. An exit after a clean
// run reads as stopped; a failure already diagnosed stays failed.
func (w *WorkerSupervisor) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.process != nil && w.exited && w.state != StateFailed {
		return StateStopped
	}
	return w.state
}

// Lines returns the relay channel carrying the worker's merged output. It is
// closed when the output stream ends.
func (w *WorkerSupervisor) Lines() <-chan string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// Start spawns the worker process. Readiness is confirmed separately via
// WaitReady so callers can stream log lines in the meantime.
func (w *WorkerSupervisor) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.process != nil && !w.exited {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.mu.Unlock()

	w.logger.Info("starting worker", "cmd", w.cfg.Command)

	proc := exec.CommandContext(ctx, w.cfg.Command[0], w.cfg.Command[1:]...)
	setProcessGroup(proc)
	proc.Env = os.Environ()
	for k, v := range w.cfg.Env {
		proc.Env = append(proc.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// Merge stdout and stderr into one stream so the readiness marker is
	// found regardless of which the worker prints to.
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create output pipe: %w", err)
	}
	proc.Stdout = pw
	proc.Stderr = pw

	if err := proc.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("failed to start worker: %w", err)
	}
	pw.Close()

	w.mu.Lock()
	w.process = proc
	w.state = StateStarting
	w.exited = false
	w.exitErr = nil
	w.lines = make(chan string, 100)
	w.ready = make(chan struct{})
	w.scanDone = make(chan struct{})
	w.exitChan = make(chan error, 1)
	lines, ready, scanDone := w.lines, w.ready, w.scanDone
	w.mu.Unlock()

	w.logger.Info("worker started", "pid", proc.Process.Pid)

	go w.scanOutput(pr, lines, ready, scanDone)
	go w.waitForExit()

	return nil
}

// WaitReady blocks until the worker prints its readiness marker, exits, or
// the timeout elapses.
func (w *WorkerSupervisor) WaitReady(ctx context.Context, timeout time.Duration) error {
	w.mu.Lock()
	ready, scanDone, exitChan := w.ready, w.scanDone, w.exitChan
	w.mu.Unlock()

	if ready == nil {
		return fmt.Errorf("worker not started")
	}

	select {
	case <-ready:
		w.setState(StateRunning)
		w.logger.Info("worker ready")
		return nil
	case err := <-exitChan:
		// The scanner may still be draining buffered output that carries
		// the marker; let it finish before calling the exit premature.
		select {
		case <-scanDone:
		case <-time.After(time.Second):
		}
		select {
		case <-ready:
			w.setState(StateRunning)
			w.logger.Info("worker ready")
			return nil
		default:
		}
		w.setState(StateFailed)
		return fmt.Errorf("worker exited before becoming ready: %v", err)
	case <-time.After(timeout):
		w.setState(StateUnknown)
		return fmt.Errorf("worker did not report readiness within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the worker process is alive.
func (w *WorkerSupervisor) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.process != nil && !w.exited
}

// ExitError returns the error from the worker's exit, if it has exited.
func (w *WorkerSupervisor) ExitError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exitErr
}

// Stop asks the worker to exit and kills it after the grace period. The
// process handle is cleared on every path.
func (w *WorkerSupervisor) Stop(ctx context.Context) error {
	w.mu.Lock()
	proc := w.process
	exitChan := w.exitChan
	exited := w.exited
	w.process = nil
	w.state = StateStopped
	w.mu.Unlock()

	if proc == nil || exited {
		return nil
	}

	w.logger.Info("stopping worker", "pid", proc.Process.Pid)
	signalGroup(proc, syscall.SIGINT)

	select {
	case <-ctx.Done():
		signalGroup(proc, syscall.SIGKILL)
		return ctx.Err()
	case <-exitChan:
		return nil
	case <-time.After(stopGracePeriod):
		w.logger.Warn("worker did not stop gracefully, killing")
		signalGroup(proc, syscall.SIGKILL)
		return nil
	}
}

func (w *WorkerSupervisor) scanOutput(r io.ReadCloser, lines chan<- string, ready, scanDone chan struct{}) {
	defer r.Close()
	defer close(lines)
	defer close(scanDone)

	marker := strings.ToLower(w.cfg.ReadyMarker)
	sawMarker := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if !sawMarker && strings.Contains(strings.ToLower(line), marker) {
			sawMarker = true
			close(ready)
		}

		select {
		case lines <- line:
		default:
			w.logger.Warn("worker output channel full, dropping line")
		}
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		w.logger.Error("error reading worker output", "error", err)
	}
}

func (w *WorkerSupervisor) waitForExit() {
	w.mu.Lock()
	proc, exitChan := w.process, w.exitChan
	w.mu.Unlock()

	if proc == nil {
		return
	}

	err := proc.Wait()

	w.mu.Lock()
	w.exited = true
	w.exitErr = err
	w.mu.Unlock()

	if exitChan != nil {
		exitChan <- err
	}

	if err != nil {
		w.logger.Warn("worker process exited", "error", err)
	} else {
		w.logger.Info("worker process exited cleanly")
	}
}

func (w *WorkerSupervisor) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}
