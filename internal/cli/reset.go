package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/groupsweep/internal/state"
	"github.com/user/groupsweep/internal/stepchan"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard the persisted workflow state and clear the step channel",
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	logger := newLogger(os.Stdout)

	cfg, cfgPath, err := loadOrCreateConfig(cmd, logger)
	if err != nil {
		return err
	}
	artifacts := resolveArtifactsRoot(cfg, cfgPath)

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if !force {
		fmt.Fprint(w, "Discard all workflow state, including accumulated results? [y/N] ")
		line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(w, "Reset aborted.")
			return nil
		}
	}

	store := state.NewStore(state.DefaultPath(artifacts))
	if err := store.Reset(); err != nil {
		return err
	}
	if err := stepchan.New(artifacts, logger).Clear(); err != nil {
		return err
	}

	fmt.Fprintln(w, "Workflow state and step channel cleared.")
	return nil
}
