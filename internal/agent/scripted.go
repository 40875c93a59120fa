package agent

import (
	"context"
	"strings"
	"sync"
)

// ScriptedResponse pairs an instruction substring with the result (or error)
// to return when a task's instruction contains it.
type ScriptedResponse struct {
	Match  string
	Result Result
	Err    error
}

// Scripted replays canned responses for deterministic tests. The first
// response whose Match substring appears in the instruction wins; tasks with
// no match return an empty result.
type Scripted struct {
	Responses []ScriptedResponse

	mu    sync.Mutex
	calls []string
}

// Run records the instruction and replays the matching response.
func (s *Scripted) Run(_ context.Context, instruction string, _ int) (Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, instruction)
	s.mu.Unlock()

	for _, resp := range s.Responses {
		if strings.Contains(instruction, resp.Match) {
			return resp.Result, resp.Err
		}
	}
	return Result{}, nil
}

// Calls returns the instructions received so far.
func (s *Scripted) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}
