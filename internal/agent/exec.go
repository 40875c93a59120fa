package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/user/groupsweep/internal/ndjson"
)

// taskPayload is the JSON document written to the agent's stdin.
type taskPayload struct {
	Instruction string `json:"instruction"`
	Budget      int    `json:"budget,omitempty"`
}

// event is one NDJSON line emitted by the agent on stdout.
type event struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Path string `json:"path,omitempty"`
}

const (
	eventMessage    = "message"
	eventScreenshot = "screenshot"
	eventDone       = "done"
	eventError      = "error"
)

// ExecAgent runs an external agent command once per task. The instruction is
// handed over as a JSON document on stdin; the agent streams NDJSON events
// (message, screenshot, done, error) on stdout and diagnostics on stderr.
type ExecAgent struct {
	command []string
	env     []string
	logger  *slog.Logger
}

// NewExec constructs an ExecAgent for the given command line. Extra
// environment entries (KEY=VALUE) are appended to the inherited environment.
func NewExec(command []string, env []string, logger *slog.Logger) (*ExecAgent, error) {
	if len(command) == 0 {
		return nil, errors.New("agent command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecAgent{command: command, env: env, logger: logger}, nil
}

// Run spawns the agent process, feeds it the task, and collects its events
// until it reports done or the stream ends.
func (a *ExecAgent) Run(ctx context.Context, instruction string, budget int) (Result, error) {
	cmd := exec.CommandContext(ctx, a.command[0], a.command[1:]...)
	// Kill the whole process group on cancellation; a forked child would
	// otherwise keep the stdout pipe open and block the event stream.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	if len(a.env) > 0 {
		cmd.Env = append(cmd.Environ(), a.env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("agent stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start agent %q: %w", a.command[0], err)
	}
	a.logger.Debug("agent started", "command", a.command[0], "pid", cmd.Process.Pid)

	task := taskPayload{Instruction: instruction, Budget: budget}
	payload, err := json.Marshal(task)
	if err != nil {
		stdin.Close()
		cmd.Cancel()
		cmd.Wait()
		return Result{}, fmt.Errorf("encode agent task: %w", err)
	}
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		stdin.Close()
		cmd.Cancel()
		cmd.Wait()
		return Result{}, fmt.Errorf("write agent task: %w", err)
	}
	stdin.Close()

	res, streamErr := collectEvents(stdout, a.logger)

	waitErr := cmd.Wait()
	if streamErr != nil {
		return Result{}, fmt.Errorf("agent stream: %w%s", streamErr, stderrSuffix(&stderr))
	}
	if waitErr != nil {
		return Result{}, fmt.Errorf("agent exited: %w%s", waitErr, stderrSuffix(&stderr))
	}
	return res, nil
}

// collectEvents reads NDJSON events until done, error, or end of stream.
// The final message event wins; screenshots accumulate in order.
func collectEvents(r io.Reader, logger *slog.Logger) (Result, error) {
	dec := ndjson.NewDecoder(r, logger)
	var res Result
	sawDone := false
	for {
		var ev event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Result{}, err
		}
		switch ev.Type {
		case eventMessage:
			res.Text = ev.Text
		case eventScreenshot:
			if ev.Path != "" {
				res.Screenshots = append(res.Screenshots, ev.Path)
			}
		case eventDone:
			sawDone = true
		case eventError:
			return Result{}, fmt.Errorf("agent reported error: %s", ev.Text)
		default:
			// Unknown event types are skipped so agents can evolve.
		}
		if sawDone {
			break
		}
	}
	if !sawDone {
		return Result{}, errors.New("agent stream ended without done event")
	}
	return res, nil
}

func stderrSuffix(buf *bytes.Buffer) string {
	s := strings.TrimSpace(buf.String())
	if s == "" {
		return ""
	}
	if len(s) > 512 {
		s = s[len(s)-512:]
	}
	return "; stderr: " + s
}
