package runtime

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/runner"
)

// Python installs requirements into a per-release virtualenv
type Python struct {
	runner runner.Runner
}

// Type implements Runtime
func (p *Python) Type() config.AppType { return config.TypePython }

// InstallDependencies creates venv/ in the release and installs
// requirements.txt into it when present
func (p *Python) InstallDependencies(ctx context.Context, t Target) error {
	venv := filepath.Join(t.Dir, "venv")
	if err := run(ctx, p.runner, t, "python3", "-m", "venv", venv); err != nil {
		return fmt.Errorf("failed to create venv: %w", err)
	}

	if !fileExists(t.Dir, "requirements.txt") {
		return nil
	}

	pip := filepath.Join(venv, "bin", "pip")
	if err := run(ctx, p.runner, t, pip, "install", "-r", filepath.Join(t.Dir, "requirements.txt")); err != nil {
		return fmt.Errorf("failed to install dependencies: %w", err)
	}
	return nil
}

// StartCommand implements Runtime
func (p *Python) StartCommand(plan *config.DeploymentPlan, t Target) string {
	if plan.Command != "" {
		return plan.Command
	}
	return filepath.Join(t.Dir, "venv", "bin", "python") + " main.py"
}
