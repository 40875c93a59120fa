package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/groupsweep/internal/state"
	"github.com/user/groupsweep/internal/workflow"
	"github.com/user/groupsweep/internal/workspace"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export a summary of the workflow's results",
	RunE:  runReport,
}

// Report is the exported summary document.
type Report struct {
	GeneratedAt  time.Time             `json:"generated_at"`
	Threads      int                   `json:"threads"`
	UnreadGroups int                   `json:"unread_groups"`
	Processed    int                   `json:"processed_groups"`
	PassComplete bool                  `json:"pass_complete"`
	Suspects     []workflow.Suspect    `json:"suspects"`
	Plan         *workflow.RemovalPlan `json:"plan"`
	RemovalLogs  map[string]string     `json:"removal_logs"`
}

func runReport(cmd *cobra.Command, args []string) error {
	logger := newLogger(os.Stdout)

	cfg, cfgPath, err := loadOrCreateConfig(cmd, logger)
	if err != nil {
		return err
	}
	artifacts := resolveArtifactsRoot(cfg, cfgPath)

	store := state.NewStore(state.DefaultPath(artifacts))
	st, err := store.Load()
	if err != nil {
		return err
	}

	report := buildReport(st, time.Now().UTC())

	out := filepath.Join(workspace.LogsDir(artifacts), "report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(out, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Processed %d of %d unread group(s); %d suspect(s) identified.\n",
		report.Processed, report.UnreadGroups, len(report.Suspects))
	fmt.Fprintf(w, "Report written to %s\n", out)
	return nil
}

func buildReport(st *state.WorkflowState, now time.Time) *Report {
	removals := make(map[string]string)
	for _, g := range st.UnreadGroups {
		if text, ok := st.StepLogs[state.RemovalLogKey(g.ID)]; ok {
			removals[g.ID] = text
		}
	}
	return &Report{
		GeneratedAt:  now,
		Threads:      len(st.Threads),
		UnreadGroups: len(st.UnreadGroups),
		Processed:    st.CurrentGroupIndex,
		PassComplete: st.PassComplete() && len(st.UnreadGroups) > 0,
		Suspects:     st.LegacySuspects,
		Plan:         st.LegacyPlan,
		RemovalLogs:  removals,
	}
}
