package runtime

import (
	"context"
	"fmt"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/runner"
)

// Node installs packages with npm
type Node struct {
	runner runner.Runner
}

// Type implements Runtime
func (n *Node) Type() config.AppType { return config.TypeNode }

// InstallDependencies runs npm ci when a lockfile is committed, npm install
// otherwise. A release without package.json needs nothing.
func (n *Node) InstallDependencies(ctx context.Context, t Target) error {
	if !fileExists(t.Dir, "package.json") {
		return nil
	}

	args := []string{"install", "--omit=dev"}
	if fileExists(t.Dir, "package-lock.json") {
		args = []string{"ci", "--omit=dev"}
	}

	if err := run(ctx, n.runner, t, "npm", args...); err != nil {
		return fmt.Errorf("failed to install dependencies: %w", err)
	}
	return nil
}

// StartCommand implements Runtime
func (n *Node) StartCommand(plan *config.DeploymentPlan, t Target) string {
	if plan.Command != "" {
		return plan.Command
	}
	return "npm start"
}
