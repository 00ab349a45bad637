package cmd

import (
	"github.com/redentordev/paradigm/pkg/deployer"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <app>",
	Short: "Remove releases beyond the retention limit",
	Long: `Delete the oldest releases until only 'retain' (from config.yml) remain.
The current and previous releases and any release a blue/green slot runs are
never removed. Successful deployments do this automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	out := newOutput()
	removed, err := deployer.Cleanup(resolveBase(args[0]))
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		out.Info("Nothing to remove")
		return nil
	}
	for _, id := range removed {
		out.Success("Removed %s", id)
	}
	return nil
}
