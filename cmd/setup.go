package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/runner"
	"github.com/redentordev/paradigm/pkg/setup"
	"github.com/redentordev/paradigm/pkg/syscheck"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	setupPort    int
	setupManager string
	setupEnv     string
	setupBranch  string
	setupRepo    string
	setupType    string
	setupForce   bool
)

var setupCmd = &cobra.Command{
	Use:   "setup <app>",
	Short: "Prepare this host to receive deployments of an app",
	Long: `Create the deployment base, a bare git repository and the post-receive
hook that runs 'paradigm execute' on every push to the deploy branch.

Existing config.yml and .env files are kept; the hook is always rewritten
so re-running setup after an upgrade points it at the current binary.

Examples:
  paradigm setup shop --port 8000
  paradigm setup api --port 3000 --manager pm2 --type node`,
	Args: cobra.ExactArgs(1),
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().IntVarP(&setupPort, "port", "p", 0, "port the application listens on")
	setupCmd.Flags().StringVar(&setupManager, "manager", string(config.ManagerSystemd), "process manager: systemd or pm2")
	setupCmd.Flags().StringVarP(&setupEnv, "env", "e", config.DefaultEnv, "environment name")
	setupCmd.Flags().StringVar(&setupBranch, "branch", setup.DefaultBranch, "branch that triggers deployments")
	setupCmd.Flags().StringVar(&setupRepo, "repo", "", "bare repository path (default <repos_dir>/<app>.git)")
	setupCmd.Flags().StringVarP(&setupType, "type", "t", "", "application type, used to check for its runtime")
	setupCmd.Flags().BoolVar(&setupForce, "force", false, "continue when required tools are missing")
	setupCmd.MarkFlagRequired("port")
}

func runSetup(cmd *cobra.Command, args []string) error {
	app := args[0]
	out := newOutput()

	manager := config.ManagerKind(setupManager)
	if manager != config.ManagerSystemd && manager != config.ManagerPM2 {
		return fmt.Errorf("invalid manager: %s. Must be systemd or pm2", setupManager)
	}
	if setupPort < 1 || setupPort > 65535 {
		return fmt.Errorf("invalid port: %d", setupPort)
	}

	out.Section("Checking host requirements")
	checker := syscheck.NewSystemChecker(runner.NewExecRunner(nil))
	result := checker.CheckAll(cmd.Context(), syscheck.Requirements(config.AppType(setupType), manager))
	syscheck.PrintResults(out, result)
	if !result.AllRequired && !setupForce {
		return errReported
	}

	repo := setupRepo
	if repo == "" {
		repo = filepath.Join(viper.GetString("repos_dir"), app+".git")
	}
	binary, err := os.Executable()
	if err != nil {
		binary = "paradigm"
	}

	base := resolveBase(app)
	out.Section("Setting up " + app)
	res, err := setup.Bootstrap(setup.Options{
		App:     app,
		Base:    base,
		Repo:    repo,
		Port:    setupPort,
		Manager: manager,
		Env:     setupEnv,
		Branch:  setupBranch,
		Binary:  binary,
	}, Version)
	if err != nil {
		return err
	}

	for _, path := range res.Created {
		out.Success("Created %s", path)
	}
	out.Success("Installed %s", res.Hook)

	out.EmptyLine()
	out.KeyValue("Base", base)
	out.KeyValue("Repository", res.Repo)
	out.KeyValue("Branch", res.Manifest.Branch)
	out.EmptyLine()
	out.Plain("Add the remote from your project and push:")
	out.Plain("  git remote add production <host>:%s", res.Repo)
	out.Plain("  git push production %s", res.Manifest.Branch)
	return nil
}
