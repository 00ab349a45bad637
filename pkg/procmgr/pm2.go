package procmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/runner"
)

// PM2 controls a process cluster through the pm2 CLI
type PM2 struct {
	runner    runner.Runner
	instances int
	timeout   time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPM2 creates a pm2 manager that starts instances copies of each unit
func NewPM2(r runner.Runner, instances int, timeout time.Duration) *PM2 {
	if instances < 1 {
		instances = 1
	}
	return &PM2{runner: r, instances: instances, timeout: timeout, sleep: sleepCtx}
}

// Kind implements Manager
func (p *PM2) Kind() config.ManagerKind { return config.ManagerPM2 }

// Reload triggers pm2's zero-downtime sequential reload
func (p *PM2) Reload(ctx context.Context, service string) error {
	_, err := p.pm2(ctx, StepReload, nil, "reload", service, "--update-env")
	return err
}

// Restart implements Manager
func (p *PM2) Restart(ctx context.Context, service string) error {
	_, err := p.pm2(ctx, StepRestart, nil, "restart", service, "--update-env")
	return err
}

// Process is one pm2-managed instance as reported by pm2 jlist
type Process struct {
	Name   string `json:"name"`
	PMID   int    `json:"pm_id"`
	PID    int    `json:"pid"`
	PM2Env struct {
		Status string `json:"status"`
	} `json:"pm2_env"`
}

// List returns the instances pm2 runs for service, in pm_id order
func (p *PM2) List(ctx context.Context, service string) ([]Process, error) {
	res, err := p.pm2(ctx, StepRolling, nil, "jlist")
	if err != nil {
		return nil, err
	}

	var all []Process
	if err := json.Unmarshal([]byte(res.Stdout), &all); err != nil {
		return nil, deployerr.Newf(deployerr.KindProcessManager, StepRolling, "failed to parse pm2 jlist: %v", err)
	}

	var procs []Process
	for _, proc := range all {
		if proc.Name == service {
			procs = append(procs, proc)
		}
	}
	return procs, nil
}

// RollingRestart restarts each instance of service by pm_id, pausing
// batchDelay between consecutive instances
func (p *PM2) RollingRestart(ctx context.Context, service string, batchDelay time.Duration) error {
	procs, err := p.List(ctx, service)
	if err != nil {
		return err
	}
	if len(procs) == 0 {
		return deployerr.Newf(deployerr.KindProcessManager, StepRolling, "no pm2 instances named %s", service)
	}

	for i, proc := range procs {
		if i > 0 {
			if err := p.sleep(ctx, batchDelay); err != nil {
				return deployerr.New(deployerr.KindProcessManager, StepRolling, err)
			}
		}
		if _, err := p.pm2(ctx, StepRolling, nil, "restart", strconv.Itoa(proc.PMID), "--update-env"); err != nil {
			return err
		}
	}
	return nil
}

// Start replaces any process registered under unit.Name with the new
// definition and persists the process list
func (p *PM2) Start(ctx context.Context, unit Unit) error {
	if unit.Name == "" || unit.Command == "" {
		return deployerr.Newf(deployerr.KindProcessManager, StepStart, "unit requires a name and a command")
	}

	env := map[string]string{"PORT": strconv.Itoa(unit.Port)}
	for k, v := range unit.Env {
		env[k] = v
	}

	// Not registered yet is fine
	_, _ = p.pm2(ctx, StepStart, nil, "delete", unit.Name)

	args := []string{"start", unit.Command, "--name", unit.Name, "--update-env"}
	if unit.WorkDir != "" {
		args = append(args, "--cwd", unit.WorkDir)
	}
	if p.instances > 1 {
		args = append(args, "-i", strconv.Itoa(p.instances))
	}
	if _, err := p.pm2(ctx, StepStart, env, args...); err != nil {
		return err
	}

	_, _ = p.pm2(ctx, StepStart, nil, "save")
	return nil
}

// Stop implements Manager
func (p *PM2) Stop(ctx context.Context, service string) error {
	_, err := p.pm2(ctx, StepStop, nil, "stop", service)
	return err
}

func (p *PM2) pm2(ctx context.Context, step string, env map[string]string, args ...string) (*runner.Result, error) {
	cmd := runner.Command{Name: "pm2", Args: args, Env: env, Timeout: p.timeout}
	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return res, managerErr(step, cmd, res, err)
	}
	return res, nil
}

// String describes the manager for transcripts
func (p *PM2) String() string {
	return fmt.Sprintf("pm2 (%d instances)", p.instances)
}
