package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/runtime"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var initType string

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a deploy.yml for a project",
	Long: `Write a deploy.yml template into the project directory (default: the
current directory). The application type is detected from the project files
unless --type is given. An existing deploy.yml is never overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVarP(&initType, "type", "t", "", "application type: python, node, docker or static")
}

func runInit(cmd *cobra.Command, args []string) error {
	out := newOutput()

	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	path := filepath.Join(abs, config.DescriptorFileName)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	appType := config.AppType(initType)
	if appType == "" {
		detected, err := runtime.Detect(abs)
		if err != nil {
			out.Warning("%v; defaulting to python", err)
			detected = config.TypePython
		} else {
			out.Info("Detected %s application", detected)
		}
		appType = detected
	}

	content := config.DescriptorTemplate(filepath.Base(abs), appType)
	if _, err := config.ParseDescriptor([]byte(content)); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	out.Success("Created %s", path)
	out.EmptyLine()
	out.Plain("Next steps:")
	out.NumberedList(
		"Edit deploy.yml: healthCheck must return 200 once the app is ready",
		"On the host: paradigm setup "+filepath.Base(abs)+" --port <port>",
		"git remote add production <host>:"+filepath.Join(viper.GetString("repos_dir"), filepath.Base(abs)+".git"),
		"git push production main",
	)
	return nil
}
