// Package state persists the workflow snapshot that makes a removal pass
// resumable. The snapshot is the sole source of truth: it is loaded at
// startup, mutated by every workflow stage, and fully rewritten to disk
// after every mutation.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/groupsweep/internal/fsutil"
	"github.com/user/groupsweep/internal/workflow"
)

// WorkflowState is the durable snapshot of one removal pass.
//
// unread_groups and its order are fixed once Filter computes them; the
// cursor indexes into that list and must never be recomputed mid-pass
// without resetting the cursor. current_group_* fields are ephemeral
// working state for the group at the cursor; all_* fields are append-only
// accumulation written at group-advance time. suspects and plan are a
// legacy merged view kept for older report consumers, recalculated from
// the accumulated state at every advance.
type WorkflowState struct {
	Threads           []workflow.Thread      `json:"threads"`
	UnreadGroups      []workflow.Thread      `json:"unread_groups"`
	CurrentGroupIndex int                    `json:"current_thread_index"`
	CurrentSuspects   []workflow.Suspect     `json:"current_group_suspects"`
	CurrentPlan       *workflow.RemovalPlan  `json:"current_group_plan"`
	AllSuspects       []workflow.Suspect     `json:"all_suspects"`
	AllPlans          []*workflow.RemovalPlan `json:"all_plans"`
	LegacySuspects    []workflow.Suspect     `json:"suspects"`
	LegacyPlan        *workflow.RemovalPlan  `json:"plan"`
	StepLogs          map[string]string      `json:"step_logs"`
}

// New returns an empty workflow state.
func New() *WorkflowState {
	return &WorkflowState{
		Threads:         []workflow.Thread{},
		UnreadGroups:    []workflow.Thread{},
		CurrentSuspects: []workflow.Suspect{},
		AllSuspects:     []workflow.Suspect{},
		AllPlans:        []*workflow.RemovalPlan{},
		LegacySuspects:  []workflow.Suspect{},
		StepLogs:        make(map[string]string),
	}
}

// CurrentGroup returns the group at the cursor, or false when the pass is
// complete (cursor == len(unread_groups)).
func (s *WorkflowState) CurrentGroup() (workflow.Thread, bool) {
	if s.CurrentGroupIndex < 0 || s.CurrentGroupIndex >= len(s.UnreadGroups) {
		return workflow.Thread{}, false
	}
	return s.UnreadGroups[s.CurrentGroupIndex], true
}

// PassComplete reports whether the cursor has reached the end of the
// unread-group list.
func (s *WorkflowState) PassComplete() bool {
	return s.CurrentGroupIndex >= len(s.UnreadGroups)
}

// ClearEphemeral resets the per-group working fields. Called when a group
// is advanced past and again when a (re-)read of a group begins, so a prior
// attempt's suspects never leak into the next one.
func (s *WorkflowState) ClearEphemeral() {
	s.CurrentSuspects = []workflow.Suspect{}
	s.CurrentPlan = nil
}

// Advance folds the current group's results into the accumulated state,
// rebuilds the legacy merged view, clears the ephemeral fields and moves
// the cursor to the next group.
func (s *WorkflowState) Advance() {
	s.AllSuspects = append(s.AllSuspects, s.CurrentSuspects...)
	if s.CurrentPlan != nil {
		s.AllPlans = append(s.AllPlans, s.CurrentPlan)
	}
	s.RebuildLegacyView()
	s.ClearEphemeral()
	s.CurrentGroupIndex++
}

// RebuildLegacyView recalculates the merged single-plan view from the
// accumulated per-group plans. Derived state only: it is never mutated
// independently of all_suspects/all_plans.
func (s *WorkflowState) RebuildLegacyView() {
	s.LegacySuspects = append([]workflow.Suspect{}, s.AllSuspects...)
	if len(s.AllPlans) == 0 {
		s.LegacyPlan = nil
		return
	}
	var merged []workflow.Suspect
	for _, p := range s.AllPlans {
		merged = append(merged, p.Suspects...)
	}
	s.LegacyPlan = &workflow.RemovalPlan{
		Suspects:  merged,
		Confirmed: true,
		Note:      fmt.Sprintf("Processed %d group(s)", len(s.AllPlans)),
	}
}

// Step log keys are namespaced by thread id so entries never collide
// across groups.

// ClassifyLogKey is the step-log key for the raw classification output.
const ClassifyLogKey = "classify"

// ReadLogKey is the step-log key for a thread's raw read output.
func ReadLogKey(threadID string) string { return "read_" + threadID }

// ScreenshotLogKey is the step-log key for a thread's read screenshots
// (stored as a JSON array of references).
func ScreenshotLogKey(threadID string) string { return "read_" + threadID + "_screenshots" }

// RemovalLogKey is the step-log key for a thread's removal outcome text.
func RemovalLogKey(threadID string) string { return "removal_" + threadID }

// Store binds a WorkflowState to its snapshot file.
type Store struct {
	path string
}

// NewStore creates a store for the snapshot at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file path.
func (st *Store) Path() string { return st.path }

// Load reads the snapshot from disk. A missing file is equivalent to a
// fresh empty state.
func (st *Store) Load() (*WorkflowState, error) {
	data, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow state: %w", err)
	}

	var s WorkflowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow state: %w", err)
	}

	// Normalize nils left by older snapshots so callers can append freely.
	if s.Threads == nil {
		s.Threads = []workflow.Thread{}
	}
	if s.UnreadGroups == nil {
		s.UnreadGroups = []workflow.Thread{}
	}
	if s.CurrentSuspects == nil {
		s.CurrentSuspects = []workflow.Suspect{}
	}
	if s.AllSuspects == nil {
		s.AllSuspects = []workflow.Suspect{}
	}
	if s.AllPlans == nil {
		s.AllPlans = []*workflow.RemovalPlan{}
	}
	if s.LegacySuspects == nil {
		s.LegacySuspects = []workflow.Suspect{}
	}
	if s.StepLogs == nil {
		s.StepLogs = make(map[string]string)
	}

	return &s, nil
}

// Save fully rewrites the snapshot atomically. Single-writer: only the
// controller process saves; concurrent external modification is undefined.
func (st *Store) Save(s *WorkflowState) error {
	return fsutil.AtomicWriteJSON(st.path, s)
}

// Reset removes the snapshot file, equivalent to starting a fresh pass.
func (st *Store) Reset() error {
	if err := os.Remove(st.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove workflow state: %w", err)
	}
	return nil
}

// DefaultPath returns the standard snapshot location under the artifacts
// root.
func DefaultPath(artifactsRoot string) string {
	return filepath.Join(artifactsRoot, "state", "workflow.json")
}
