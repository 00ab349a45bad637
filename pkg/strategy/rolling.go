package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/release"
	"go.uber.org/zap"
)

// Rolling repoints current and lets the process manager restart instances
// one at a time. The health check runs once, after every instance has
// restarted and the stabilization wait has passed.
type Rolling struct {
	*Engine
}

// Name implements Strategy
func (r *Rolling) Name() config.StrategyName { return config.StrategyRolling }

// Deploy implements Strategy
func (r *Rolling) Deploy(ctx context.Context, plan *config.DeploymentPlan) *Outcome {
	start := time.Now()
	out := &Outcome{Strategy: r.Name()}
	defer func() { out.Duration = time.Since(start) }()

	restart := func(ctx context.Context) error {
		return r.Manager.RollingRestart(ctx, plan.ServiceName(), plan.BatchDelay)
	}

	var (
		rel   *release.Release
		first bool
	)
	stages := []Stage{
		{State: "DepsInstalled", Fn: func(ctx context.Context) error {
			var err error
			rel, err = r.createRelease(ctx, r.Name(), plan)
			out.Release = rel
			return err
		}},
		{State: "PreHookRun", Fn: func(ctx context.Context) error {
			return r.Hooks.RunPreDeploy(ctx, plan.Hooks, rel.Path, rel.ID)
		}},
		{State: "CurrentRepointed", Fn: func(ctx context.Context) error {
			cur, err := r.Store.Current()
			if err != nil {
				return err
			}
			first = cur == nil
			return r.Store.Activate(rel)
		}},
		{State: "RollingRestartIssued", Live: true, Fn: func(ctx context.Context) error {
			err := restart(ctx)
			// Nothing is registered with the manager before the first deploy
			if err != nil && first {
				r.Logger.Warn("rolling restart failed, starting service", zap.NamedError("err", err))
				err = r.Manager.Start(ctx, r.currentUnit(plan))
			}
			if err != nil {
				r.warnManager(err)
			}
			return nil
		}},
		{State: "StabilizationWait", Live: true, Fn: func(ctx context.Context) error {
			r.Out.Step("waiting %s for stabilization", plan.BatchDelay)
			return r.Sleep(ctx, plan.BatchDelay)
		}},
		{State: "HealthChecked", Live: true, Fn: func(ctx context.Context) error {
			return r.healthCheck(ctx, plan, plan.Port, r.SimplePolicy)
		}},
	}

	if stage, err := r.runStages(ctx, r.Name(), out, stages); err != nil {
		if !stage.Live {
			return fail(out, StatusAborted, stage, err)
		}
		fail(out, StatusRolledBack, stage, err)
		r.rollback(ctx, r.Name(), rel, out, restart)
		if out.RollbackSucceeded {
			out.Message = fmt.Sprintf("%s; restored release %s", out.Message, out.Restored)
		}
		return out
	}

	r.postDeploy(ctx, plan, rel, out)
	out.Status = StatusSucceeded
	out.Message = fmt.Sprintf("release %s is live on all instances", rel.ID)
	r.state(r.Name(), "Succeeded")
	return out
}
