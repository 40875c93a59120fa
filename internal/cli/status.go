package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/groupsweep/internal/state"
	"github.com/user/groupsweep/internal/stepchan"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted workflow state without starting anything",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := newLogger(os.Stdout)

	cfg, cfgPath, err := loadOrCreateConfig(cmd, logger)
	if err != nil {
		return err
	}
	artifacts := resolveArtifactsRoot(cfg, cfgPath)

	st, err := state.NewStore(state.DefaultPath(artifacts)).Load()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "threads: %d\n", len(st.Threads))
	fmt.Fprintf(w, "unread groups: %d\n", len(st.UnreadGroups))
	if group, ok := st.CurrentGroup(); ok {
		fmt.Fprintf(w, "cursor: group %d of %d (%q)\n", st.CurrentGroupIndex+1, len(st.UnreadGroups), group.Name)
	} else if len(st.UnreadGroups) > 0 {
		fmt.Fprintln(w, "cursor: pass complete")
	}
	fmt.Fprintf(w, "accumulated suspects: %d\n", len(st.AllSuspects))
	fmt.Fprintf(w, "accumulated plans: %d\n", len(st.AllPlans))

	for _, slot := range []string{stepchan.RequestFile, stepchan.StatusFile, stepchan.ResultFile} {
		if _, err := os.Stat(filepath.Join(artifacts, slot)); err == nil {
			fmt.Fprintf(w, "channel slot present: %s\n", slot)
		}
	}
	return nil
}
