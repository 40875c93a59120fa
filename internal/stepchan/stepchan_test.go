package stepchan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/user/groupsweep/internal/fsutil"
)

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	c := New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.SetPollInterval(5 * time.Millisecond)
	return c
}

func TestSubmitAndPoll(t *testing.T) {
	c := newTestChannel(t)

	err := c.Submit(StepReadMessages, map[string]any{
		"thread_id":   "g1",
		"thread_name": "留学交流群",
	})
	require.NoError(t, err)

	req, err := c.Poll()
	require.NoError(t, err)
	require.Equal(t, StepReadMessages, req.Step)
	require.Equal(t, "g1", req.Params["thread_id"])

	// Poll consumed the slot: re-entering cannot dispatch twice.
	_, err = c.Poll()
	require.ErrorIs(t, err, ErrNoRequest)
}

func TestSubmitNilParams(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, c.Submit(StepClassify, nil))

	req, err := c.Poll()
	require.NoError(t, err)
	require.Equal(t, StepClassify, req.Step)
	require.NotNil(t, req.Params)
}

func TestPollMalformedRequestIsConsumed(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, os.WriteFile(filepath.Join(c.dir, RequestFile), []byte("{{not json"), 0600))

	_, err := c.Poll()
	var malformed *MalformedError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, RequestFile, malformed.Slot)

	// The poisoned request must not wedge the next poll cycle.
	_, err = c.Poll()
	require.ErrorIs(t, err, ErrNoRequest)
}

func TestPollMissingStepName(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, os.WriteFile(filepath.Join(c.dir, RequestFile), []byte(`{"params":{}}`), 0600))

	_, err := c.Poll()
	var malformed *MalformedError
	require.ErrorAs(t, err, &malformed)
}

func TestAwaitResultComplete(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, c.MarkRunning())
	require.NoError(t, c.WriteResult(&Result{
		Text:        `{"threads": []}`,
		Screenshots: []string{"captures/classification_0.png"},
	}))

	res, err := c.AwaitResult(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, `{"threads": []}`, res.Text)
	require.Len(t, res.Screenshots, 1)

	// Both terminal slots were deleted.
	require.NoFileExists(t, filepath.Join(c.dir, StatusFile))
	require.NoFileExists(t, filepath.Join(c.dir, ResultFile))
}

func TestAwaitResultError(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, c.WriteError("RuntimeError: agent lost the window"))

	_, err := c.AwaitResult(context.Background(), time.Second)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "RuntimeError: agent lost the window", stepErr.Message)

	require.NoFileExists(t, filepath.Join(c.dir, StatusFile))
	require.NoFileExists(t, filepath.Join(c.dir, ResultFile))
}

func TestAwaitResultTerminalExclusivity(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, c.WriteResult(&Result{Text: "ok"}))

	_, err := c.AwaitResult(context.Background(), time.Second)
	require.NoError(t, err)

	// The request's outcome was consumed exactly once: a second await
	// observes neither complete-with-result nor error-with-message.
	_, err = c.AwaitResult(context.Background(), 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestAwaitResultTimeoutIsNonDestructive(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, c.MarkRunning())

	_, err := c.AwaitResult(context.Background(), 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	// The stale status remains inspectable after the timeout.
	data, readErr := os.ReadFile(filepath.Join(c.dir, StatusFile))
	require.NoError(t, readErr)
	require.Equal(t, StatusRunning, string(data))

	// The next correctly-lifecycled request is unaffected once the stale
	// slots are explicitly cleared.
	require.NoError(t, c.Clear())
	require.NoError(t, c.Submit(StepClassify, nil))
	_, err = c.Poll()
	require.NoError(t, err)
	require.NoError(t, c.WriteResult(&Result{Text: "fresh"}))

	res, err := c.AwaitResult(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "fresh", res.Text)
}

func TestAwaitResultMalformedResult(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, os.WriteFile(filepath.Join(c.dir, ResultFile), []byte("{{"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(c.dir, StatusFile), []byte(StatusComplete), 0600))

	_, err := c.AwaitResult(context.Background(), time.Second)
	var malformed *MalformedError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, ResultFile, malformed.Slot)

	// Offending slots cleared so the next cycle starts clean.
	require.NoFileExists(t, filepath.Join(c.dir, StatusFile))
	require.NoFileExists(t, filepath.Join(c.dir, ResultFile))
}

func TestAwaitResultUnexpectedStatus(t *testing.T) {
	c := newTestChannel(t)

	require.NoError(t, os.WriteFile(filepath.Join(c.dir, StatusFile), []byte("exploded"), 0600))

	_, err := c.AwaitResult(context.Background(), time.Second)
	var malformed *MalformedError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, StatusFile, malformed.Slot)
}

func TestAwaitResultContextCancelled(t *testing.T) {
	c := newTestChannel(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.AwaitResult(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResultWrittenBeforeStatus(t *testing.T) {
	c := newTestChannel(t)

	// A complete status with no result yet is treated as in-flight, not
	// consumed half-done. Write the result shortly after the status to
	// simulate a reader racing the commit.
	require.NoError(t, os.WriteFile(filepath.Join(c.dir, StatusFile), []byte(StatusComplete), 0600))
	go func() {
		time.Sleep(20 * time.Millisecond)
		data := []byte(`{"text": "late", "screenshots": []}`)
		_ = fsutil.AtomicWrite(filepath.Join(c.dir, ResultFile), data)
	}()

	res, err := c.AwaitResult(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "late", res.Text)
}

func TestFullRoundTrip(t *testing.T) {
	c := newTestChannel(t)

	// Worker side in a goroutine: poll, run, publish.
	done := make(chan error, 1)
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for {
			req, err := c.Poll()
			if errors.Is(err, ErrNoRequest) {
				if time.Now().After(deadline) {
					done <- errors.New("worker never saw the request")
					return
				}
				time.Sleep(5 * time.Millisecond)
				continue
			}
			if err != nil {
				done <- err
				return
			}
			if err := c.MarkRunning(); err != nil {
				done <- err
				return
			}
			done <- c.WriteResult(&Result{Text: "handled " + req.Step})
			return
		}
	}()

	require.NoError(t, c.Submit(StepRemove, map[string]any{"suspects": []any{}}))

	res, err := c.AwaitResult(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "handled remove", res.Text)
	require.NoError(t, <-done)
}
