package cmd

import (
	"os"

	"github.com/redentordev/paradigm/pkg/deployer"
	"github.com/spf13/cobra"
)

var executeCmd = &cobra.Command{
	Use:   "execute <repo> <ref>",
	Short: "Deploy a revision of a repository",
	Long: `Deploy <ref> of the git repository at <repo> into the deployment base.

This is what the post-receive hook installed by 'paradigm setup' runs for
every push. The exit status is 0 only when the new release is live and
healthy; a rolled-back or aborted deployment exits with 1.

Examples:
  paradigm execute /var/repos/shop.git 3f2c9e1
  paradigm execute /var/repos/shop.git main --base /srv/shop`,
	Args: cobra.ExactArgs(2),
	RunE: runExecute,
}

func init() {
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	repo, ref := args[0], args[1]
	base := resolveBase(deployer.AppName(repo))

	out := newOutput()
	logger, closeLog := openLogger(out, base)
	defer closeLog()

	ctrl := deployer.NewController(out, logger)
	if verbose {
		ctrl.Stream = os.Stderr
	}

	outcome := ctrl.ExecuteDeployment(cmd.Context(), repo, ref, base)
	if !outcome.Succeeded() {
		return errReported
	}
	return nil
}
