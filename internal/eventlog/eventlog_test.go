package eventlog

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestEventLogAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run-1.ndjson")

	log, err := New(path, "run-1", slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := log.StepSubmitted("classify", ""); err != nil {
		t.Fatalf("StepSubmitted: %v", err)
	}
	if err := log.StepComplete("classify", "", "14 threads"); err != nil {
		t.Fatalf("StepComplete: %v", err)
	}
	if err := log.StepFailed("read_messages", "t1", errors.New("step timed out")); err != nil {
		t.Fatalf("StepFailed: %v", err)
	}
	if err := log.Transition("advanced to group 2"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if entries[0].Kind != KindStepSubmitted || entries[0].Step != "classify" {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[2].Error != "step timed out" || entries[2].ThreadID != "t1" {
		t.Fatalf("failure entry = %+v", entries[2])
	}
	for _, e := range entries {
		if e.RunID != "run-1" {
			t.Fatalf("entry missing run id: %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Fatalf("entry missing timestamp: %+v", e)
		}
	}
}

func TestEventLogAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ndjson")

	first, err := New(path, "run-1", slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Transition("started"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	first.Close()

	second, err := New(path, "run-1", slog.Default())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := second.Transition("resumed"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	second.Close()

	entries, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 2 || entries[1].Detail != "resumed" {
		t.Fatalf("entries = %+v", entries)
	}
}
