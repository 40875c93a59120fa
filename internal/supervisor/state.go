// Package supervisor manages the two long-lived subprocesses of a run: the
// automation server the agent drives, and the worker that executes steps.
package supervisor

// State describes what the supervisor knows about a managed process.
type State string

const (
	// StateStopped means no process is running.
	StateStopped State = "stopped"
	// StateStarting means the process was spawned but is not yet confirmed.
	StateStarting State = "starting"
	// StateRunning means the process is confirmed alive and serving.
	StateRunning State = "running"
	// StateUnknown means the process is alive but never confirmed readiness.
	StateUnknown State = "unknown"
	// StateFailed means the process or its environment is in a bad state
	// that needs operator attention.
	StateFailed State = "failed"
)
