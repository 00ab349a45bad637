package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/redentordev/paradigm/pkg/formatter"
	"github.com/redentordev/paradigm/pkg/logging"
	"github.com/redentordev/paradigm/pkg/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultDeploymentsDir = "/opt/deployments"
	defaultReposDir       = "/var/repos"
)

var (
	cfgFile string
	verbose bool
	noColor bool
	baseDir string
	// Version, GitCommit, and BuildTime are set via ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// errReported means the failure was already printed to the transcript
var errReported = errors.New("reported")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "paradigm",
	Short: "Zero-downtime deployments for a single host, triggered by git push",
	Long: `Paradigm deploys one application per host directory on every git push.

Each push is materialized into an immutable release, dependencies are
installed, and the release is activated with the strategy named in the
repository's deploy.yml (simple, blue-green or rolling). A release that fails
its health check is rolled back automatically.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(ctx)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if !errors.Is(err, errReported) {
		newOutput().Error("%v", err)
	}
	os.Exit(1)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.SetVersionTemplate(fmt.Sprintf(`Paradigm {{.Version}}
Commit:  %s
Built:   %s
`, GitCommit, BuildTime))

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "CLI settings file (default is /etc/paradigm/paradigm.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base", "", "deployment base directory (default <deployments_dir>/<app>)")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("no_color", rootCmd.PersistentFlags().Lookup("no-color"))
	viper.BindPFlag("base", rootCmd.PersistentFlags().Lookup("base"))
	viper.SetDefault("deployments_dir", defaultDeploymentsDir)
	viper.SetDefault("repos_dir", defaultReposDir)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	// A .env beside the binary's working directory may carry PARADIGM_* settings
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/etc/paradigm")
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("paradigm")
	}

	viper.SetEnvPrefix("PARADIGM")
	viper.AutomaticEnv() // PARADIGM_BASE, PARADIGM_DEPLOYMENTS_DIR, ...

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	verbose = viper.GetBool("verbose")
	noColor = viper.GetBool("no_color")

	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = Version
	if err := telemetry.Init(cfg); err != nil && verbose {
		fmt.Fprintln(os.Stderr, "Warning: tracing disabled:", err)
	}
}

func newOutput() *formatter.Output {
	return formatter.New(verbose, noColor)
}

// resolveBase returns the deployment base for app
func resolveBase(app string) string {
	if b := viper.GetString("base"); b != "" {
		return b
	}
	return filepath.Join(viper.GetString("deployments_dir"), app)
}

// openLogger opens the deployment log under base, falling back to a no-op
// logger so a read-only base never blocks a command
func openLogger(out *formatter.Output, base string) (*zap.Logger, func()) {
	logger, closeFn, err := logging.New(base, verbose)
	if err != nil {
		out.Warning("logging disabled: %v", err)
		return zap.NewNop(), func() {}
	}
	return logger, func() { _ = closeFn() }
}
