package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/release"
)

// Simple swaps the current pointer to the new release, reloads the service
// and health checks it, rolling back on failure
type Simple struct {
	*Engine
}

// Name implements Strategy
func (s *Simple) Name() config.StrategyName { return config.StrategySimple }

// Deploy implements Strategy
func (s *Simple) Deploy(ctx context.Context, plan *config.DeploymentPlan) *Outcome {
	start := time.Now()
	out := &Outcome{Strategy: s.Name()}
	defer func() { out.Duration = time.Since(start) }()

	var rel *release.Release
	stages := []Stage{
		{State: "DepsInstalled", Fn: func(ctx context.Context) error {
			var err error
			rel, err = s.createRelease(ctx, s.Name(), plan)
			out.Release = rel
			return err
		}},
		{State: "PreHookRun", Fn: func(ctx context.Context) error {
			return s.Hooks.RunPreDeploy(ctx, plan.Hooks, rel.Path, rel.ID)
		}},
		{State: "Activated", Fn: func(ctx context.Context) error {
			return s.Store.Activate(rel)
		}},
		{State: "Reloaded", Live: true, Fn: func(ctx context.Context) error {
			s.reloadOrStart(ctx, plan)
			return nil
		}},
		{State: "HealthChecked", Live: true, Fn: func(ctx context.Context) error {
			return s.healthCheck(ctx, plan, plan.Port, s.SimplePolicy)
		}},
	}

	if stage, err := s.runStages(ctx, s.Name(), out, stages); err != nil {
		if !stage.Live {
			return fail(out, StatusAborted, stage, err)
		}
		fail(out, StatusRolledBack, stage, err)
		s.rollback(ctx, s.Name(), rel, out, func(ctx context.Context) error {
			return s.Manager.Reload(ctx, plan.ServiceName())
		})
		if out.RollbackSucceeded {
			out.Message = fmt.Sprintf("%s; restored release %s", out.Message, out.Restored)
		}
		return out
	}

	s.postDeploy(ctx, plan, rel, out)
	out.Status = StatusSucceeded
	out.Message = fmt.Sprintf("release %s is live", rel.ID)
	s.state(s.Name(), "Succeeded")
	return out
}
