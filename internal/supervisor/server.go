package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// DefaultStartupTimeout bounds how long Start waits for a healthy probe.
	DefaultStartupTimeout = 30 * time.Second
	// healthPollInterval is the delay between health probes during startup.
	healthPollInterval = 500 * time.Millisecond
	// stopGracePeriod is how long Stop waits before killing the process.
	stopGracePeriod = 5 * time.Second
)

// ServerConfig describes the automation server process.
type ServerConfig struct {
	Command        []string
	Env            map[string]string
	Port           int
	HealthPath     string
	StartupTimeout time.Duration
}

// ServerSupervisor starts, probes, and stops the automation server.
type ServerSupervisor struct {
	cfg    ServerConfig
	logger *slog.Logger
	client *http.Client

	mu         sync.Mutex
	process    *exec.Cmd
	state      State
	diagnostic string
	output     *lockedBuffer
	exitChan   chan error
	exited     bool
	exitErr    error
}

// lockedBuffer guards the captured server output, which the process writes
// while the startup loop reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewServerSupervisor constructs a supervisor for the given server config.
func NewServerSupervisor(cfg ServerConfig, logger *slog.Logger) *ServerSupervisor {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/status"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerSupervisor{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 2 * time.Second},
		state:  StateStopped,
	}
}

// State returns the last determined state and its diagnostic.
func (s *ServerSupervisor) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.diagnostic
}

// Start launches the server and waits for it to answer health probes. An
// occupied port fails fast with a distinct diagnosis instead of a generic
// startup failure.
func (s *ServerSupervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.process != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.mu.Unlock()

	if err := preflightBind(s.cfg.Port); err != nil {
		s.setState(StateFailed, "port already in use")
		return fmt.Errorf("port %d is already in use; stop the occupying process first", s.cfg.Port)
	}

	s.logger.Info("starting server", "cmd", s.cfg.Command, "port", s.cfg.Port)

	proc := exec.CommandContext(ctx, s.cfg.Command[0], s.cfg.Command[1:]...)
	setProcessGroup(proc)
	proc.Env = os.Environ()
	for k, v := range s.cfg.Env {
		proc.Env = append(proc.Env, fmt.Sprintf("%s=%s", k, v))
	}

	output := &lockedBuffer{}
	proc.Stdout = output
	proc.Stderr = output

	if err := proc.Start(); err != nil {
		s.setState(StateFailed, "server process failed to start")
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.mu.Lock()
	s.process = proc
	s.output = output
	s.state = StateStarting
	s.diagnostic = ""
	s.exited = false
	s.exitErr = nil
	s.exitChan = make(chan error, 1)
	s.mu.Unlock()

	go s.waitForExit()

	return s.awaitHealthy(ctx)
}

// awaitHealthy polls the health endpoint until it answers, the process dies,
// or the startup timeout elapses. A positive probe counts only while the
// process handle is still alive: the port may be answered by a different
// process entirely.
func (s *ServerSupervisor) awaitHealthy(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.StartupTimeout)
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		if s.probeHealth(ctx) {
			s.mu.Lock()
			exitedAfterProbe := s.exited
			s.mu.Unlock()
			if exitedAfterProbe {
				s.setState(StateFailed, "server process exited but the port still answers health checks; another process may hold it")
				return fmt.Errorf("server process exited but port %d still answers health checks; another process may hold it", s.cfg.Port)
			}
			s.setState(StateRunning, "")
			s.logger.Info("server healthy", "port", s.cfg.Port)
			return nil
		}

		s.mu.Lock()
		exited, exitErr := s.exited, s.exitErr
		tail := ""
		if s.output != nil {
			tail = outputTail(s.output.String())
		}
		s.mu.Unlock()

		if exited {
			s.setState(StateFailed, "server exited during startup")
			if tail != "" {
				return fmt.Errorf("server exited during startup: %v; output: %s", exitErr, tail)
			}
			return fmt.Errorf("server exited during startup: %v", exitErr)
		}

		if time.Now().After(deadline) {
			s.setState(StateUnknown, "server never answered health checks after startup")
			return fmt.Errorf("server did not become healthy within %s", s.cfg.StartupTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Check re-evaluates the server's state from the process handle and a fresh
// health probe. A dead handle with a still-healthy port is reported as
// failed: some other process answers on the port the supervisor thought it
// owned.
func (s *ServerSupervisor) Check(ctx context.Context) (State, string) {
	s.mu.Lock()
	proc, exited := s.process, s.exited
	s.mu.Unlock()

	healthy := s.probeHealth(ctx)

	switch {
	case proc == nil && healthy:
		s.setState(StateStopped, "port answers health checks but no server is supervised")
	case proc == nil:
		s.setState(StateStopped, "")
	case exited && healthy:
		s.setState(StateFailed, "server process exited but the port still answers health checks; another process may hold it")
	case exited:
		s.setState(StateStopped, "server process exited")
	case healthy:
		s.setState(StateRunning, "")
	default:
		s.setState(StateUnknown, "server process is alive but failing health checks")
	}

	return s.State()
}

// Stop asks the server to exit and kills it after the grace period.
func (s *ServerSupervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	proc := s.process
	exitChan := s.exitChan
	exited := s.exited
	s.process = nil
	s.mu.Unlock()

	if proc == nil || exited {
		s.setState(StateStopped, "")
		return nil
	}

	s.logger.Info("stopping server", "pid", proc.Process.Pid)
	signalGroup(proc, syscall.SIGINT)

	select {
	case <-ctx.Done():
		signalGroup(proc, syscall.SIGKILL)
		s.setState(StateStopped, "")
		return ctx.Err()
	case <-exitChan:
		s.setState(StateStopped, "")
		return nil
	case <-time.After(stopGracePeriod):
		s.logger.Warn("server did not stop gracefully, killing")
		signalGroup(proc, syscall.SIGKILL)
		s.setState(StateStopped, "")
		return nil
	}
}

func (s *ServerSupervisor) waitForExit() {
	s.mu.Lock()
	proc, exitChan := s.process, s.exitChan
	s.mu.Unlock()

	if proc == nil {
		return
	}

	err := proc.Wait()

	s.mu.Lock()
	s.exited = true
	s.exitErr = err
	s.mu.Unlock()

	if exitChan != nil {
		exitChan <- err
	}

	if err != nil {
		s.logger.Warn("server process exited", "error", err)
	} else {
		s.logger.Info("server process exited cleanly")
	}
}

func (s *ServerSupervisor) probeHealth(ctx context.Context) bool {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", s.cfg.Port, s.cfg.HealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *ServerSupervisor) setState(state State, diagnostic string) {
	s.mu.Lock()
	s.state = state
	s.diagnostic = diagnostic
	s.mu.Unlock()
}

// preflightBind verifies the port can actually be bound. A dial probe would
// miss an occupant that holds the socket without accepting connections.
func preflightBind(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	return l.Close()
}

func outputTail(out string) string {
	out = strings.TrimSpace(out)
	if len(out) > 512 {
		out = out[len(out)-512:]
	}
	return out
}
