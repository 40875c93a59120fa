package stepchan

import (
	"errors"
	"fmt"
)

// Sentinel errors for channel operations.
var (
	// ErrTimeout means no terminal status appeared within the bounded
	// wait. The channel slots are left in place for diagnosis.
	ErrTimeout = errors.New("timed out waiting for step result")

	// ErrNoRequest means the request slot was empty on poll.
	ErrNoRequest = errors.New("no pending step request")
)

// StepError is a failure the worker itself reported through the error
// status. The message is propagated verbatim.
type StepError struct {
	Message string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step failed: %s", e.Message)
}

// MalformedError means a slot's payload failed structural parsing. The
// offending slots have already been cleared so they cannot poison the next
// poll cycle.
type MalformedError struct {
	Slot string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed payload in %s: %v", e.Slot, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}
