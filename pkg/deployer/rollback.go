package deployer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/health"
	"github.com/redentordev/paradigm/pkg/history"
	"github.com/redentordev/paradigm/pkg/notification"
	"github.com/redentordev/paradigm/pkg/procmgr"
	"github.com/redentordev/paradigm/pkg/release"
	"github.com/redentordev/paradigm/pkg/runtime"
	"github.com/redentordev/paradigm/pkg/state"
	"github.com/redentordev/paradigm/pkg/strategy"
	"go.uber.org/zap"
)

const strategyManual = "manual-rollback"

// RollbackResult describes a manual rollback
type RollbackResult struct {
	From     string
	Restored *release.Release
	// Healthy reports the post-rollback health check; a failure is reported
	// and never rolls forward again
	Healthy bool
	Slot    string
}

// Rollback restores the previous release and restarts the service on it.
// The plan comes from the live release's deploy.yml and the host config.
func (c *Controller) Rollback(ctx context.Context, base string) (*RollbackResult, error) {
	c.defaults()
	a := c.newAttempt("", "", base)
	defer a.close()

	// the lock covers reading the live descriptor, which a concurrent
	// deployment may be repointing
	lock := state.NewDeployLock(base)
	if _, err := lock.Acquire(AppName(base), opRollback, ""); err != nil {
		c.Out.Error("%v", err)
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.logger.Warn("failed to release deploy lock", zap.NamedError("err", err))
		}
	}()

	plan, err := config.Resolve(
		filepath.Join(base, release.CurrentLink, config.DescriptorFileName),
		filepath.Join(base, config.HostConfigFileName),
	)
	if err != nil {
		c.Out.Error("%v", err)
		return nil, err
	}
	a.logger = withPlan(a.logger, plan)
	c.Out.Section("Rolling back " + plan.Name)

	res := &RollbackResult{}
	if cur, err := a.store.Current(); err == nil && cur != nil {
		res.From = cur.ID
	}

	restored, err := a.store.Rollback()
	if err != nil {
		c.finishRollback(ctx, a, plan, res, err)
		return nil, err
	}
	res.Restored = restored
	c.Out.Success("current now points at %s (%s)", restored.ID, restored.ShortRef())

	mgr, err := c.manager(a, plan)
	if err != nil {
		c.finishRollback(ctx, a, plan, res, err)
		return res, err
	}

	port := plan.Port
	switch plan.Strategy {
	case config.StrategyRolling:
		err = mgr.RollingRestart(ctx, plan.ServiceName(), plan.BatchDelay)
	case config.StrategyBlueGreen:
		res.Slot, port, err = c.switchSlot(ctx, a, plan, mgr, restored)
	default:
		err = mgr.Reload(ctx, plan.ServiceName())
	}
	if err != nil {
		c.Out.Warning("process manager: %v", err)
		a.logger.Warn("process manager command failed", zap.NamedError("err", err))
	}

	policy := c.SimplePolicy
	if policy.Attempts == 0 {
		policy = health.SimplePolicy
	}
	policy.Timeout = plan.Timeouts.Probe
	if _, err := health.NewChecker(c.Prober).CheckAll(ctx, []string{health.URL(port, plan.HealthCheck)}, policy); err != nil {
		c.Out.Warning("restored release is unhealthy: %v", err)
	} else {
		res.Healthy = true
	}

	c.finishRollback(ctx, a, plan, res, nil)
	return res, nil
}

func (c *Controller) manager(a *attempt, plan *config.DeploymentPlan) (procmgr.Manager, error) {
	if c.Manager != nil {
		return c.Manager, nil
	}
	mgr, err := procmgr.New(plan, a.runner)
	if err != nil {
		return nil, deployerr.New(deployerr.KindConfig, stepEngine, err)
	}
	return mgr, nil
}

// switchSlot makes the inactive slot serve restored, starting it when it
// is not already running that release. It returns the slot and its port.
func (c *Controller) switchSlot(ctx context.Context, a *attempt, plan *config.DeploymentPlan, mgr procmgr.Manager, restored *release.Release) (string, int, error) {
	store := state.NewSlotStore(a.base)
	slots, err := store.Load(plan.BluePort, plan.GreenPort)
	if err != nil {
		return "", plan.Port, err
	}

	target := slots.Inactive()
	slot := slots.Get(target)

	var startErr error
	if !slot.Running || slot.Release != restored.ID {
		rt, err := runtime.New(plan.Type, a.runner)
		if err != nil {
			return target, slot.Port, err
		}
		startErr = mgr.Start(ctx, procmgr.Unit{
			Name:        strategy.SlotService(plan, target),
			Description: fmt.Sprintf("%s application (%s)", plan.Name, target),
			WorkDir:     restored.Path,
			Command:     rt.StartCommand(plan, runtime.Target{App: plan.Name, ReleaseID: restored.ID, Dir: restored.Path}),
			Port:        slot.Port,
			Env:         map[string]string{"SLOT": target},
		})
		slot.Release = restored.ID
		slot.Running = true
		slot.UpdatedAt = time.Now()
	}

	slots.Active = target
	slots.Switched = time.Now()
	if err := store.Save(slots); err != nil {
		return target, slot.Port, err
	}
	c.Out.Info("Note: point your reverse proxy at port %d", slot.Port)
	return target, slot.Port, startErr
}

func (c *Controller) finishRollback(ctx context.Context, a *attempt, plan *config.DeploymentPlan, res *RollbackResult, err error) {
	rec := &history.Record{
		ID:         a.id,
		App:        plan.Name,
		Strategy:   strategyManual,
		Status:     string(strategy.StatusRolledBack),
		StartedAt:  a.started,
		FinishedAt: time.Now(),
	}
	event := notification.Event{
		Type:        notification.EventRollbackDone,
		App:         plan.Name,
		Environment: plan.Env,
		Strategy:    strategyManual,
		Duration:    time.Since(a.started),
	}

	if err != nil {
		rec.Status = string(strategy.StatusAborted)
		rec.FailedStep = deployerr.StepOf(err)
		rec.Message = a.redactor.Redact(err.Error())
		event.Type = notification.EventRollbackFailed
		event.Step = rec.FailedStep
		event.Error = rec.Message
		event.Message = "manual rollback failed"
		c.Out.Error("ROLLBACK FAILED: %v", err)
		a.logger.Error("manual rollback failed", zap.NamedError("err", err))
	} else {
		rec.ReleaseID = res.Restored.ID
		rec.Ref = res.Restored.SourceRef
		rec.Message = fmt.Sprintf("rolled back from %s to %s", res.From, res.Restored.ID)
		event.Release = res.Restored.ID
		event.Ref = res.Restored.SourceRef
		event.Message = rec.Message
		a.logger.Info("manual rollback finished", zap.String("release", res.Restored.ID), zap.Bool("healthy", res.Healthy))
	}

	c.record(ctx, a, rec)
	c.notify(ctx, a, plan, event)
}
