// Package procmgr drives the host process supervisor (systemd or pm2).
// A non-zero exit from a control command is a ProcessManagerError; it is
// reported but never triggers a rollback on its own.
package procmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/runner"
)

// Steps reported on errors
const (
	StepReload  = "reload"
	StepRestart = "restart"
	StepRolling = "rolling-restart"
	StepStart   = "start"
	StepStop    = "stop"
)

// Unit describes a service the manager should run, used for blue/green
// slots that each need their own process on their own port
type Unit struct {
	Name        string
	Description string
	WorkDir     string
	Command     string // shell command line
	Port        int
	Env         map[string]string
}

// Manager is a process supervisor
type Manager interface {
	Kind() config.ManagerKind
	// Reload gracefully reloads service, restarting it when reload is unsupported
	Reload(ctx context.Context, service string) error
	Restart(ctx context.Context, service string) error
	// RollingRestart restarts instances of service one at a time, waiting
	// batchDelay between them
	RollingRestart(ctx context.Context, service string, batchDelay time.Duration) error
	// Start (re)starts unit with the given definition
	Start(ctx context.Context, unit Unit) error
	Stop(ctx context.Context, service string) error
}

// New returns the manager for plan.Manager
func New(plan *config.DeploymentPlan, r runner.Runner) (Manager, error) {
	switch plan.Manager {
	case config.ManagerSystemd, "":
		return NewSystemd(r, plan.UnitDir, plan.Timeouts.Manager), nil
	case config.ManagerPM2:
		return NewPM2(r, plan.Instances, plan.Timeouts.Manager), nil
	default:
		return nil, fmt.Errorf("unsupported process manager: %s", plan.Manager)
	}
}

func managerErr(step string, cmd runner.Command, res *runner.Result, err error) error {
	if out := res.Output(); out != "" {
		return deployerr.New(deployerr.KindProcessManager, step, fmt.Errorf("%s: %w", cmd, err), out)
	}
	return deployerr.New(deployerr.KindProcessManager, step, fmt.Errorf("%s: %w", cmd, err))
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
