package coordinator

import "fmt"

// PreconditionError reports that an operation was invoked before the state
// it depends on exists. The operator sees the reason verbatim.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func precondition(op, format string, args ...any) *PreconditionError {
	return &PreconditionError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
