// Package hooks runs the pre- and post-deploy hook commands declared in
// deploy.yml.
package hooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/runner"
)

// Steps reported on errors
const (
	StepPreDeploy  = "pre-deploy"
	StepPostDeploy = "post-deploy"
)

// Executor handles lifecycle hook execution
type Executor struct {
	runner  runner.Runner
	app     string
	env     string
	timeout time.Duration
	// Output, when set, receives each line of a failed hook's output
	Output func(line string)
	// Warn, when set, receives findings from ValidateCommand. Flagged
	// hooks still run; their exit status alone decides the outcome.
	Warn func(msg string)
}

// NewExecutor creates a hook executor for plan
func NewExecutor(r runner.Runner, plan *config.DeploymentPlan) *Executor {
	return &Executor{
		runner:  r,
		app:     plan.Name,
		env:     plan.Env,
		timeout: plan.Timeouts.Hook,
	}
}

// Run executes command through sh -c inside workDir. An empty command is
// a no-op. releaseID fills the {{RELEASE}} placeholder.
func (e *Executor) Run(ctx context.Context, step, command, workDir, releaseID string) error {
	if strings.TrimSpace(command) == "" {
		return nil
	}

	expanded := e.expandVariables(command, releaseID)
	if err := ValidateCommand(expanded); err != nil && e.Warn != nil {
		e.Warn(fmt.Sprintf("%s hook: %v", step, err))
	}

	cmd := runner.Shell(expanded, workDir)
	cmd.Timeout = e.timeout
	cmd.Env = map[string]string{
		"APP":     e.app,
		"RELEASE": releaseID,
		"ENV":     e.env,
	}

	res, err := e.runner.Run(ctx, cmd)
	if err != nil {
		out := res.Output()
		if e.Output != nil && out != "" {
			for _, line := range strings.Split(out, "\n") {
				if line != "" {
					e.Output(line)
				}
			}
		}
		if out != "" {
			return deployerr.New(deployerr.KindHook, step, fmt.Errorf("%s hook failed: %w", step, err), out)
		}
		return deployerr.New(deployerr.KindHook, step, fmt.Errorf("%s hook failed: %w", step, err))
	}
	return nil
}

// RunPreDeploy runs the pre-deploy hook. A failure is fatal to the
// deployment and must abort it before activation.
func (e *Executor) RunPreDeploy(ctx context.Context, hooks config.Hooks, workDir, releaseID string) error {
	return e.Run(ctx, StepPreDeploy, hooks.PreDeploy, workDir, releaseID)
}

// RunPostDeploy runs the post-deploy hook. Callers report a failure but
// keep the activation.
func (e *Executor) RunPostDeploy(ctx context.Context, hooks config.Hooks, workDir, releaseID string) error {
	return e.Run(ctx, StepPostDeploy, hooks.PostDeploy, workDir, releaseID)
}

// expandVariables expands {{VAR}} placeholders
func (e *Executor) expandVariables(command, releaseID string) string {
	result := command
	result = strings.ReplaceAll(result, "{{APP}}", e.app)
	result = strings.ReplaceAll(result, "{{RELEASE}}", releaseID)
	result = strings.ReplaceAll(result, "{{ENV}}", e.env)
	return result
}
