// Package strategy implements the deployment algorithms: Simple (symlink
// swap), Blue-Green (validate an inactive slot, then switch) and Rolling
// (process-manager rolling restart). Each runs as an ordered pipeline of
// named states and ends in exactly one Outcome.
package strategy

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/formatter"
	"github.com/redentordev/paradigm/pkg/health"
	"github.com/redentordev/paradigm/pkg/hooks"
	"github.com/redentordev/paradigm/pkg/procmgr"
	"github.com/redentordev/paradigm/pkg/release"
	"github.com/redentordev/paradigm/pkg/runtime"
	"github.com/redentordev/paradigm/pkg/state"
	"github.com/redentordev/paradigm/pkg/telemetry"
	"go.uber.org/zap"
)

// Status is the terminal result of a deployment
type Status string

const (
	// StatusSucceeded means the new release is live and healthy
	StatusSucceeded Status = "succeeded"
	// StatusRolledBack means the new release went live, failed validation
	// and the previous release was restored
	StatusRolledBack Status = "rolled-back"
	// StatusAborted means the deployment stopped before anything live changed
	StatusAborted Status = "aborted"
)

// Outcome is the terminal result of one strategy run
type Outcome struct {
	Status     Status
	Strategy   config.StrategyName
	FailedStep string
	Message    string
	Err        error

	// Release is the release this attempt created, if any
	Release *release.Release
	// Restored is the release current points at after a rollback
	Restored          string
	RollbackSucceeded bool
	RollbackErr       error
	// PostDeployErr is a reported, non-fatal post-deploy hook failure
	PostDeployErr error

	// Slot is the blue/green slot that was deployed
	Slot string
	// Pinned lists releases that must survive cleanup
	Pinned []string

	Duration time.Duration
	States   []StateTiming
}

// StateTiming records how long one state took
type StateTiming struct {
	State    string
	Duration time.Duration
}

// Succeeded reports whether the deployment succeeded
func (o *Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// ExitCode is the process exit status for the outcome
func (o *Outcome) ExitCode() int {
	if o.Succeeded() {
		return 0
	}
	return 1
}

// ReleaseID returns the attempted release ID, or empty
func (o *Outcome) ReleaseID() string {
	if o.Release == nil {
		return ""
	}
	return o.Release.ID
}

// Strategy deploys one source reference according to a plan
type Strategy interface {
	Name() config.StrategyName
	Deploy(ctx context.Context, plan *config.DeploymentPlan) *Outcome
}

// Engine holds the components every strategy drives
type Engine struct {
	Store   *release.Store
	Manager procmgr.Manager
	Runtime runtime.Runtime
	Hooks   *hooks.Executor
	Checker *health.Checker
	Smoke   *health.SmokeRunner
	Slots   *state.SlotStore
	Out     *formatter.Output
	Logger  *zap.Logger

	SimplePolicy    health.Policy
	BlueGreenPolicy health.Policy

	// Sleep waits between a rolling restart and its health check
	Sleep func(ctx context.Context, d time.Duration) error
}

// New returns the strategy called name, defaulting to simple
func New(name config.StrategyName, e *Engine) (Strategy, error) {
	e.defaults()
	switch name {
	case config.StrategySimple, "":
		return &Simple{e}, nil
	case config.StrategyBlueGreen:
		return &BlueGreen{e}, nil
	case config.StrategyRolling:
		return &Rolling{e}, nil
	default:
		return nil, deployerr.Newf(deployerr.KindConfig, "strategy", "unknown deployment strategy: %s", name)
	}
}

func (e *Engine) defaults() {
	if e.Out == nil {
		e.Out = formatter.Discard()
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.SimplePolicy.Attempts == 0 {
		e.SimplePolicy = health.SimplePolicy
	}
	if e.BlueGreenPolicy.Attempts == 0 {
		e.BlueGreenPolicy = health.BlueGreenPolicy
	}
	if e.Sleep == nil {
		e.Sleep = sleepCtx
	}
}

// Stage is one named state of a strategy pipeline
type Stage struct {
	State string
	Fn    func(context.Context) error
	// Live marks stages that run after current was repointed; their
	// failure requires a rollback instead of an abort
	Live bool
}

// runStages executes stages in order, emitting each reached state. It
// returns the first failing stage and its error.
func (e *Engine) runStages(ctx context.Context, name config.StrategyName, out *Outcome, stages []Stage) (*Stage, error) {
	for i := range stages {
		stage := &stages[i]
		start := time.Now()

		sctx, span := telemetry.TraceState(ctx, string(name), stage.State)
		err := stage.Fn(sctx)
		telemetry.End(span, err)

		out.States = append(out.States, StateTiming{State: stage.State, Duration: time.Since(start)})
		if err != nil {
			e.Logger.Error("state failed",
				zap.String("strategy", string(name)),
				zap.String("state", stage.State),
				zap.NamedError("err", err))
			return stage, err
		}
		e.state(name, stage.State)
	}
	return nil, nil
}

// state reports a reached state to the transcript and the log
func (e *Engine) state(name config.StrategyName, s string) {
	e.Out.State(string(name), s)
	e.Logger.Info("state reached", zap.String("strategy", string(name)), zap.String("state", s))
}

// createRelease materializes ref and installs dependencies, reporting
// Cloned once the tree is on disk
func (e *Engine) createRelease(ctx context.Context, name config.StrategyName, plan *config.DeploymentPlan) (*release.Release, error) {
	return e.Store.Create(ctx, plan, plan.SourceRef, func(ctx context.Context, rel *release.Release) error {
		e.state(name, "Cloned")
		e.Out.Verbose("release %s (%s) at %s", rel.ID, rel.ShortRef(), rel.Path)
		return e.Runtime.InstallDependencies(ctx, runtime.Target{
			App:       plan.Name,
			ReleaseID: rel.ID,
			Dir:       rel.Path,
			Timeout:   plan.Timeouts.Install,
		})
	})
}

// currentUnit describes the main service running from the current pointer
func (e *Engine) currentUnit(plan *config.DeploymentPlan) procmgr.Unit {
	dir := filepath.Join(e.Store.Base(), release.CurrentLink)
	return procmgr.Unit{
		Name:        plan.ServiceName(),
		Description: plan.Name + " application",
		WorkDir:     dir,
		Command:     e.Runtime.StartCommand(plan, runtime.Target{App: plan.Name, Dir: dir}),
		Port:        plan.Port,
	}
}

// reloadOrStart reloads the main service, starting it from its unit
// definition when reload fails (first deployment). Failures are reported
// only; the health check that follows decides the outcome.
func (e *Engine) reloadOrStart(ctx context.Context, plan *config.DeploymentPlan) {
	err := e.Manager.Reload(ctx, plan.ServiceName())
	if err == nil {
		return
	}
	e.Logger.Warn("reload failed, starting service", zap.NamedError("err", err))
	if err := e.Manager.Start(ctx, e.currentUnit(plan)); err != nil {
		e.warnManager(err)
	}
}

func (e *Engine) warnManager(err error) {
	e.Out.Warning("process manager: %v", err)
	e.Logger.Warn("process manager command failed", zap.NamedError("err", err))
}

// healthCheck probes the plan's health endpoint on port
func (e *Engine) healthCheck(ctx context.Context, plan *config.DeploymentPlan, port int, policy health.Policy) error {
	if plan.Timeouts.Probe > 0 {
		policy.Timeout = plan.Timeouts.Probe
	}
	url := health.URL(port, plan.HealthCheck)
	e.Out.Step("health check %s (%d attempts, %s apart)", url, policy.Attempts, policy.Delay)

	ctx, span := telemetry.TraceHealthCheck(ctx, plan.Name, []string{url})
	_, err := e.Checker.CheckAll(ctx, []string{url}, policy)
	telemetry.End(span, err)
	return err
}

// postDeploy runs the post-deploy hook; failure is recorded on out and
// never changes the status
func (e *Engine) postDeploy(ctx context.Context, plan *config.DeploymentPlan, rel *release.Release, out *Outcome) {
	if err := e.Hooks.RunPostDeploy(ctx, plan.Hooks, rel.Path, rel.ID); err != nil {
		out.PostDeployErr = err
		e.Out.Warning("post-deploy hook failed: %v", err)
		e.Logger.Warn("post-deploy hook failed", zap.NamedError("err", err))
	}
}

// rollback restores the previous release after a live validation failure
// and restarts the service on it with restart. With nothing to roll back
// to, the failed release is deactivated so current never points at it.
func (e *Engine) rollback(ctx context.Context, name config.StrategyName, rel *release.Release, out *Outcome, restart func(context.Context) error) {
	e.Out.Warning("rolling back %s", rel.ID)

	restored, err := e.Store.Rollback()
	if err != nil {
		out.RollbackErr = err
		if derr := e.Store.Deactivate(rel.ID); derr != nil {
			out.RollbackErr = fmt.Errorf("%w; deactivating %s: %v", err, rel.ID, derr)
		}
		e.Out.Error("ROLLBACK FAILED: %v", out.RollbackErr)
		e.Logger.Error("rollback failed", zap.String("release", rel.ID), zap.NamedError("err", out.RollbackErr))
		return
	}

	out.Restored = restored.ID
	out.RollbackSucceeded = true
	if err := restart(ctx); err != nil {
		e.warnManager(err)
	}
	e.state(name, "RolledBack")
	e.Out.Success("restored release %s", restored.ID)
}

// fail fills out for a failed stage
func fail(out *Outcome, status Status, stage *Stage, err error) *Outcome {
	out.Status = status
	out.Err = err
	out.FailedStep = deployerr.StepOf(err)
	if out.FailedStep == "" && stage != nil {
		out.FailedStep = stage.State
	}
	out.Message = fmt.Sprintf("%s failed: %v", out.FailedStep, err)
	return out
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
