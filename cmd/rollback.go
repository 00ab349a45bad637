package cmd

import (
	"github.com/redentordev/paradigm/pkg/deployer"
	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <app>",
	Short: "Roll back to the previous release",
	Long: `Repoint current at the release that was live before it and restart the
service on it. Each invocation walks one release further back.

Blue/green deployments switch to the other slot, starting it when it no
longer runs the restored release.

Use 'paradigm status' to see which release will be restored.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	base := resolveBase(args[0])

	out := newOutput()
	logger, closeLog := openLogger(out, base)
	defer closeLog()

	res, err := deployer.NewController(out, logger).Rollback(cmd.Context(), base)
	if err != nil {
		return errReported
	}

	out.EmptyLine()
	out.KeyValue("From", res.From)
	out.KeyValue("Restored", res.Restored.ID+" ("+res.Restored.ShortRef()+")")
	if res.Slot != "" {
		out.KeyValue("Slot", res.Slot)
	}
	if !res.Healthy {
		out.Warning("the restored release did not pass its health check")
		return errReported
	}
	out.Success("Rolled back to %s", res.Restored.ID)
	return nil
}
