// Package runtime implements the per-type capabilities of a deployable
// application: installing dependencies into a release and producing the
// command that starts it.
package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/runner"
)

// Target is the release a runtime operates on
type Target struct {
	App       string
	ReleaseID string
	Dir       string
	Timeout   time.Duration // per install command
}

// Runtime is implemented once per application type
type Runtime interface {
	Type() config.AppType
	// InstallDependencies prepares t.Dir so it can be started
	InstallDependencies(ctx context.Context, t Target) error
	// StartCommand returns the shell command that runs the application from
	// dir. The process manager exports PORT.
	StartCommand(plan *config.DeploymentPlan, t Target) string
}

// New returns the runtime for appType
func New(appType config.AppType, r runner.Runner) (Runtime, error) {
	switch appType {
	case config.TypePython:
		return &Python{runner: r}, nil
	case config.TypeNode:
		return &Node{runner: r}, nil
	case config.TypeDocker:
		return &Docker{runner: r, KeepImages: DefaultKeepImages}, nil
	case config.TypeStatic:
		return &Static{}, nil
	default:
		return nil, fmt.Errorf("unsupported app type: %s", appType)
	}
}

// run executes one install command, returning its output on failure
func run(ctx context.Context, r runner.Runner, t Target, name string, args ...string) error {
	res, err := r.Run(ctx, runner.Command{
		Name:    name,
		Args:    args,
		Dir:     t.Dir,
		Timeout: t.Timeout,
	})
	if err != nil {
		if out := res.Output(); out != "" {
			return fmt.Errorf("%w\nOutput: %s", err, out)
		}
		return err
	}
	return nil
}

// fileExists checks if a file exists in dir
func fileExists(dir, filename string) bool {
	_, err := os.Stat(filepath.Join(dir, filename))
	return err == nil
}
