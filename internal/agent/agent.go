// Package agent defines the browsing collaborator used by the worker to
// operate the chat client. Production runs spawn an external agent process
// per task; tests substitute a scripted implementation.
package agent

import (
	"context"
)

// Result is the outcome of one agent task.
type Result struct {
	// Text is the agent's final textual answer.
	Text string
	// Screenshots lists capture file paths in the order they were taken.
	Screenshots []string
}

// Agent executes one natural-language instruction against the chat client
// and reports what it saw. Budget caps the number of interactions the agent
// may spend; zero means the implementation's default.
type Agent interface {
	Run(ctx context.Context, instruction string, budget int) (Result, error)
}
