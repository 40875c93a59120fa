// Package eventlog maintains the append-only NDJSON audit ledger of
// controller activity: step submissions, their outcomes, and state
// transitions of the workflow.
package eventlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/groupsweep/internal/ndjson"
)

// Entry is one ledger line.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	RunID     string    `json:"run_id"`
	Kind      string    `json:"kind"`
	Step      string    `json:"step,omitempty"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Entry kinds.
const (
	KindStepSubmitted = "step_submitted"
	KindStepComplete  = "step_complete"
	KindStepFailed    = "step_failed"
	KindTransition    = "transition"
	KindSupervision   = "supervision"
)

// EventLog appends ledger entries to an NDJSON file.
type EventLog struct {
	runID   string
	file    *os.File
	encoder *ndjson.Encoder
	logger  *slog.Logger
	mu      sync.Mutex
}

// New opens (or creates) the ledger file for the given run.
func New(logPath, runID string, logger *slog.Logger) (*EventLog, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &EventLog{
		runID:   runID,
		file:    file,
		encoder: ndjson.NewEncoder(file, logger),
		logger:  logger,
	}, nil
}

// StepSubmitted records that a step request was written to the channel.
func (l *EventLog) StepSubmitted(step, threadID string) error {
	return l.append(Entry{Kind: KindStepSubmitted, Step: step, ThreadID: threadID})
}

// StepComplete records a completed step and a short outcome summary.
func (l *EventLog) StepComplete(step, threadID, detail string) error {
	return l.append(Entry{Kind: KindStepComplete, Step: step, ThreadID: threadID, Detail: detail})
}

// StepFailed records a failed or timed-out step.
func (l *EventLog) StepFailed(step, threadID string, stepErr error) error {
	e := Entry{Kind: KindStepFailed, Step: step, ThreadID: threadID}
	if stepErr != nil {
		e.Error = stepErr.Error()
	}
	return l.append(e)
}

// Transition records a workflow state transition.
func (l *EventLog) Transition(detail string) error {
	return l.append(Entry{Kind: KindTransition, Detail: detail})
}

// Supervision records a process supervision action or observation.
func (l *EventLog) Supervision(detail string) error {
	return l.append(Entry{Kind: KindSupervision, Detail: detail})
}

func (l *EventLog) append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Timestamp = time.Now().UTC()
	e.RunID = l.runID
	return l.encoder.Encode(&e)
}

// Close closes the ledger file.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Read loads every entry from a ledger file, oldest first.
func Read(logPath string) ([]Entry, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	dec := ndjson.NewDecoder(file, slog.Default())
	var entries []Entry
	for {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			break
		}
		entries = append(entries, e)
	}
	return entries, nil
}
