package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/procmgr"
	"github.com/redentordev/paradigm/pkg/release"
	"github.com/redentordev/paradigm/pkg/runtime"
	"github.com/redentordev/paradigm/pkg/state"
	"go.uber.org/zap"
)

// BlueGreen deploys into the inactive slot, validates it on its own port
// and only then switches traffic. Nothing live changes before the switch,
// so a failure aborts without a rollback. A slot that fails validation is
// left running for inspection.
type BlueGreen struct {
	*Engine
}

// Name implements Strategy
func (b *BlueGreen) Name() config.StrategyName { return config.StrategyBlueGreen }

// SlotService is the process-manager service name of a slot
func SlotService(plan *config.DeploymentPlan, slot string) string {
	return plan.ServiceName() + "-" + slot
}

// Deploy implements Strategy
func (b *BlueGreen) Deploy(ctx context.Context, plan *config.DeploymentPlan) *Outcome {
	start := time.Now()
	out := &Outcome{Strategy: b.Name()}
	defer func() { out.Duration = time.Since(start) }()

	slots, err := b.Slots.Load(plan.BluePort, plan.GreenPort)
	if err != nil {
		return fail(out, StatusAborted, nil, deployerr.New(deployerr.KindStore, "slots", err))
	}
	defer func() { out.Pinned = slots.Releases() }()

	oldSlot := slots.Active
	target := slots.Inactive()
	slot := slots.Get(target)
	out.Slot = target

	var rel *release.Release
	stages := []Stage{
		{State: "InactiveSlotSelected", Fn: func(ctx context.Context) error {
			if oldSlot == "" {
				b.Out.Step("no active slot yet, deploying %s (port %d)", target, slot.Port)
			} else {
				b.Out.Step("deploying %s (port %d), %s keeps serving", target, slot.Port, oldSlot)
			}
			return nil
		}},
		{State: "DepsInstalledInInactive", Fn: func(ctx context.Context) error {
			var err error
			rel, err = b.createRelease(ctx, b.Name(), plan)
			out.Release = rel
			return err
		}},
		{State: "PreHookRun", Fn: func(ctx context.Context) error {
			return b.Hooks.RunPreDeploy(ctx, plan.Hooks, rel.Path, rel.ID)
		}},
		{State: "InactiveStarted", Fn: func(ctx context.Context) error {
			unit := procmgr.Unit{
				Name:        SlotService(plan, target),
				Description: fmt.Sprintf("%s application (%s)", plan.Name, target),
				WorkDir:     rel.Path,
				Command:     b.Runtime.StartCommand(plan, runtime.Target{App: plan.Name, ReleaseID: rel.ID, Dir: rel.Path}),
				Port:        slot.Port,
				Env:         map[string]string{"SLOT": target},
			}
			if err := b.Manager.Start(ctx, unit); err != nil {
				b.warnManager(err)
			}
			slot.Release = rel.ID
			slot.Running = true
			slot.UpdatedAt = time.Now()
			return b.saveSlots(slots)
		}},
		{State: "InactiveHealthChecked", Fn: func(ctx context.Context) error {
			return b.healthCheck(ctx, plan, slot.Port, b.BlueGreenPolicy)
		}},
		{State: "SmokeTestsRun", Fn: func(ctx context.Context) error {
			if b.Smoke == nil || len(plan.SmokeTests) == 0 {
				b.Out.Verbose("no smoke tests configured")
				return nil
			}
			b.Out.Step("running %d smoke tests against port %d", len(plan.SmokeTests), slot.Port)
			return b.Smoke.Run(ctx, slot.Port, plan.SmokeTests)
		}},
		{State: "TrafficSwitched", Fn: func(ctx context.Context) error {
			if err := b.Store.Activate(rel); err != nil {
				return err
			}
			slots.Active = target
			slots.Switched = time.Now()
			if err := b.saveSlots(slots); err != nil {
				return err
			}
			b.Out.Info("Note: point your reverse proxy at port %d", slot.Port)
			return nil
		}},
	}

	if stage, err := b.runStages(ctx, b.Name(), out, stages); err != nil {
		fail(out, StatusAborted, stage, err)
		if oldSlot != "" {
			out.Message = fmt.Sprintf("%s; %s is still serving", out.Message, oldSlot)
		}
		if slot.Running && rel != nil && slot.Release == rel.ID {
			b.Out.Warning("%s left running on port %d for inspection", SlotService(plan, target), slot.Port)
		}
		return out
	}

	if oldSlot != "" {
		b.retire(ctx, plan, slots, oldSlot)
	}

	b.postDeploy(ctx, plan, rel, out)
	out.Status = StatusSucceeded
	out.Message = fmt.Sprintf("release %s is live on %s (port %d)", rel.ID, target, slot.Port)
	b.state(b.Name(), "Succeeded")
	return out
}

// retire stops the previously active slot unless keepInactive is set
func (b *BlueGreen) retire(ctx context.Context, plan *config.DeploymentPlan, slots *state.Slots, name string) {
	old := slots.Get(name)
	if plan.KeepInactive {
		b.Out.Info("%s kept running on port %d for instant rollback", name, old.Port)
		return
	}

	if err := b.Manager.Stop(ctx, SlotService(plan, name)); err != nil {
		b.warnManager(err)
		return
	}
	old.Running = false
	old.UpdatedAt = time.Now()
	if err := b.saveSlots(slots); err != nil {
		b.Logger.Warn("failed to record stopped slot", zap.String("slot", name), zap.NamedError("err", err))
	}
}

func (b *BlueGreen) saveSlots(slots *state.Slots) error {
	if err := b.Slots.Save(slots); err != nil {
		return deployerr.New(deployerr.KindStore, "slots", err)
	}
	return nil
}
