package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "groupsweep",
	Short: "Supervised removal of promotional spammers from chat groups",
	Long: `groupsweep coordinates a human-supervised workflow that inventories chat
threads, reads the unread groups, identifies members posting promotional
spam, and removes them after operator approval.

Running 'groupsweep' without a subcommand is equivalent to 'groupsweep run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(resetCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to groupsweep.yaml config file (default: search up directory tree)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
