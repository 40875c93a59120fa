// Package stepchan implements the file-based request/status/result protocol
// between the controller and the step worker.
//
// The channel is three named slots in the artifacts directory, used for
// exactly one outstanding request at a time. The worker writes the result
// payload before the terminal status: the status write is the commit
// signal, so a reader never observes a terminal status without a readable
// result. The protocol is not safe against concurrent writers; it assumes
// a single controller and a single worker on the same host.
package stepchan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/groupsweep/internal/fsutil"
)

// Slot file names under the channel directory. The paths are a contract
// shared with the worker process.
const (
	RequestFile = ".step_request"
	StatusFile  = ".step_status"
	ResultFile  = ".step_result"
)

// Status values, in strict order per request: running, then exactly one of
// complete or error.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusError    = "error"
)

// Step names the worker understands.
const (
	StepClassify     = "classify"
	StepReadMessages = "read_messages"
	StepRemove       = "remove"
)

// Defaults for the cooperative poll loop.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultAwaitTimeout = 300 * time.Second
)

// Request is the payload of the request slot.
type Request struct {
	Step   string         `json:"step"`
	Params map[string]any `json:"params"`
}

// Result is the structured payload of the result slot on complete.
type Result struct {
	Text        string   `json:"text"`
	Screenshots []string `json:"screenshots"`
}

// Channel provides both ends of the protocol over a shared directory.
type Channel struct {
	dir          string
	pollInterval time.Duration
	logger       *slog.Logger
}

// New creates a channel rooted at dir.
func New(dir string, logger *slog.Logger) *Channel {
	return &Channel{
		dir:          dir,
		pollInterval: DefaultPollInterval,
		logger:       logger,
	}
}

// SetPollInterval overrides the status poll interval (tests).
func (c *Channel) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

func (c *Channel) requestPath() string { return filepath.Join(c.dir, RequestFile) }
func (c *Channel) statusPath() string  { return filepath.Join(c.dir, StatusFile) }
func (c *Channel) resultPath() string  { return filepath.Join(c.dir, ResultFile) }

// Submit writes a request into the request slot. It overwrites silently if
// a previous request was never cleared: keeping at most one request in
// flight is the caller's responsibility, and stale slots from a timed-out
// request must be dropped with Clear before the next Submit.
func (c *Channel) Submit(step string, params map[string]any) error {
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(Request{Step: step, Params: params})
	if err != nil {
		return fmt.Errorf("failed to marshal step request: %w", err)
	}
	if err := fsutil.AtomicWrite(c.requestPath(), data); err != nil {
		return fmt.Errorf("failed to write step request: %w", err)
	}
	c.logger.Debug("step request submitted", "step", step)
	return nil
}

// Clear removes all three slots. Used to drop stale files left by a
// timed-out request before submitting the next one.
func (c *Channel) Clear() error {
	for _, path := range []string{c.requestPath(), c.statusPath(), c.resultPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear channel slot %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// AwaitResult polls the status slot until a terminal status appears or the
// timeout elapses.
//
// On complete it reads and parses the result slot, deletes result and
// status, and returns the parsed result. On error it reads the result slot
// as a plain error message, deletes both slots, and returns a *StepError.
// On timeout it returns ErrTimeout without deleting anything, so a late
// result remains inspectable; the caller decides whether to re-check
// worker liveness.
func (c *Channel) AwaitResult(ctx context.Context, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.readStatus()
		if err != nil {
			return nil, err
		}

		switch status {
		case "":
			// No status yet; keep polling.
		case StatusRunning:
			// Worker picked the request up; keep polling.
		case StatusComplete:
			res, ok, err := c.consumeResult()
			if err != nil {
				return nil, err
			}
			if ok {
				return res, nil
			}
			// Status committed but the result is not readable yet; a
			// well-behaved worker writes result before status, so treat
			// it as in-flight and poll again.
		case StatusError:
			return nil, c.consumeError()
		default:
			c.removeSlots(c.statusPath(), c.resultPath())
			return nil, &MalformedError{Slot: StatusFile, Err: fmt.Errorf("unexpected status %q", status)}
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Channel) readStatus() (string, error) {
	data, err := os.ReadFile(c.statusPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status slot: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Channel) consumeResult() (*Result, bool, error) {
	data, err := os.ReadFile(c.resultPath())
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read result slot: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		// Don't let a poisoned result wedge the next poll cycle.
		c.removeSlots(c.statusPath(), c.resultPath())
		return nil, false, &MalformedError{Slot: ResultFile, Err: err}
	}

	c.removeSlots(c.statusPath(), c.resultPath())
	return &res, true, nil
}

func (c *Channel) consumeError() error {
	message := "unknown error"
	if data, err := os.ReadFile(c.resultPath()); err == nil {
		message = strings.TrimSpace(string(data))
	}
	c.removeSlots(c.statusPath(), c.resultPath())
	return &StepError{Message: message}
}

func (c *Channel) removeSlots(paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove channel slot", "path", path, "error", err)
		}
	}
}

// Poll observes the request slot (worker side). On finding a request it
// consumes it (reads then deletes) before returning, so re-entering the
// poll loop cannot dispatch the same request twice. Returns ErrNoRequest
// when the slot is empty. A request that fails structural parsing is
// consumed and reported as a *MalformedError.
func (c *Channel) Poll() (*Request, error) {
	data, err := os.ReadFile(c.requestPath())
	if os.IsNotExist(err) {
		return nil, ErrNoRequest
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request slot: %w", err)
	}

	if err := os.Remove(c.requestPath()); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to consume request slot: %w", err)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &MalformedError{Slot: RequestFile, Err: err}
	}
	if req.Step == "" {
		return nil, &MalformedError{Slot: RequestFile, Err: fmt.Errorf("request missing step name")}
	}
	return &req, nil
}

// MarkRunning writes the running status. The worker calls this before
// starting work on a consumed request.
func (c *Channel) MarkRunning() error {
	if err := fsutil.AtomicWrite(c.statusPath(), []byte(StatusRunning)); err != nil {
		return fmt.Errorf("failed to write running status: %w", err)
	}
	return nil
}

// WriteResult publishes a successful step outcome: result payload first,
// then the complete status as the commit signal.
func (c *Channel) WriteResult(res *Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal step result: %w", err)
	}
	if err := fsutil.AtomicWrite(c.resultPath(), data); err != nil {
		return fmt.Errorf("failed to write result slot: %w", err)
	}
	if err := fsutil.AtomicWrite(c.statusPath(), []byte(StatusComplete)); err != nil {
		return fmt.Errorf("failed to write complete status: %w", err)
	}
	return nil
}

// WriteError publishes a failed step outcome: the plain-text message goes
// into the result slot, then the error status commits it.
func (c *Channel) WriteError(message string) error {
	if err := fsutil.AtomicWrite(c.resultPath(), []byte(message)); err != nil {
		return fmt.Errorf("failed to write error message: %w", err)
	}
	if err := fsutil.AtomicWrite(c.statusPath(), []byte(StatusError)); err != nil {
		return fmt.Errorf("failed to write error status: %w", err)
	}
	return nil
}
