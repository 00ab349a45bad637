// Package deployer runs deployment attempts end to end. The Controller
// serializes attempts with the deploy lock, resolves the plan at the pushed
// ref, hands it to a strategy and records what happened: history, cleanup,
// notifications and the deployment span.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/formatter"
	"github.com/redentordev/paradigm/pkg/git"
	"github.com/redentordev/paradigm/pkg/health"
	"github.com/redentordev/paradigm/pkg/history"
	"github.com/redentordev/paradigm/pkg/hooks"
	"github.com/redentordev/paradigm/pkg/notification"
	"github.com/redentordev/paradigm/pkg/procmgr"
	"github.com/redentordev/paradigm/pkg/release"
	"github.com/redentordev/paradigm/pkg/runner"
	"github.com/redentordev/paradigm/pkg/runtime"
	"github.com/redentordev/paradigm/pkg/secrets"
	"github.com/redentordev/paradigm/pkg/state"
	"github.com/redentordev/paradigm/pkg/strategy"
	"github.com/redentordev/paradigm/pkg/telemetry"
	"go.uber.org/zap"
)

const (
	stepDescriptor = "read-descriptor"
	stepEngine     = "engine"

	opDeploy   = "deploy"
	opRollback = "rollback"
)

// Controller wires the engine components for a deployment base. Nil fields
// get production defaults.
type Controller struct {
	Fetcher git.Fetcher
	// Runner overrides the os/exec runner
	Runner runner.Runner
	// Manager overrides the process manager the plan selects
	Manager procmgr.Manager
	Prober  health.Prober
	Out     *formatter.Output
	Logger  *zap.Logger
	// Stream receives live command output after redaction
	Stream io.Writer
	// History overrides the history.db under the base
	History *history.Repo

	SimplePolicy    health.Policy
	BlueGreenPolicy health.Policy
	Sleep           func(ctx context.Context, d time.Duration) error
}

// NewController creates a controller that fetches from git repositories on
// the local filesystem
func NewController(out *formatter.Output, logger *zap.Logger) *Controller {
	return &Controller{
		Fetcher: git.NewClient(),
		Prober:  health.NewHTTPProber(),
		Out:     out,
		Logger:  logger,
	}
}

func (c *Controller) defaults() {
	if c.Fetcher == nil {
		c.Fetcher = git.NewClient()
	}
	if c.Prober == nil {
		c.Prober = health.NewHTTPProber()
	}
	if c.Out == nil {
		c.Out = formatter.Discard()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// attempt carries the per-invocation state of one deploy or rollback
type attempt struct {
	id       string
	base     string
	repo     string
	ref      string
	started  time.Time
	logger   *zap.Logger
	redactor *secrets.Redactor
	runner   runner.Runner
	stream   *secrets.Writer
	store    *release.Store
}

func (c *Controller) newAttempt(repo, ref, base string) *attempt {
	a := &attempt{
		id:       history.NewID(),
		base:     base,
		repo:     repo,
		ref:      ref,
		started:  time.Now(),
		redactor: secrets.NewRedactor(),
	}
	a.logger = c.Logger.With(zap.String("attempt", a.id))
	if ref != "" {
		a.logger = a.logger.With(zap.String("ref", ref))
	}

	a.runner = c.Runner
	if a.runner == nil {
		var stream io.Writer
		if c.Stream != nil {
			a.stream = secrets.NewWriter(a.redactor, c.Stream)
			stream = a.stream
		}
		a.runner = runner.NewExecRunner(stream)
	}
	a.store = release.NewStore(base, repo, c.Fetcher)
	c.Out.Filter = a.redactor.Redact
	return a
}

func (a *attempt) close() {
	if a.stream != nil {
		_ = a.stream.Flush()
	}
}

// AppName derives an application name from a repository path
func AppName(repo string) string {
	name := filepath.Base(strings.TrimRight(repo, "/"))
	return strings.TrimSuffix(name, ".git")
}

// ExecuteDeployment deploys ref of repo into base and returns the terminal
// outcome. Only a Succeeded outcome maps to exit status 0.
func (c *Controller) ExecuteDeployment(ctx context.Context, repo, ref, base string) *strategy.Outcome {
	c.defaults()
	a := c.newAttempt(repo, ref, base)
	defer a.close()

	app := AppName(repo)
	c.Out.Section(fmt.Sprintf("Deploying %s @ %s", app, ref))
	a.logger.Info("deployment started", zap.String("repo", repo), zap.String("base", base))

	ctx, span := telemetry.TraceDeploy(ctx, app, "", ref)
	if telemetry.IsEnabled() {
		a.logger = a.logger.With(zap.String("trace_id", span.SpanContext().TraceID().String()))
	}
	var out *strategy.Outcome
	defer func() { telemetry.End(span, out.Err) }()

	lock := state.NewDeployLock(base)
	if _, err := lock.Acquire(app, opDeploy, ref); err != nil {
		out = aborted(err)
		c.finish(ctx, a, nil, app, out)
		return out
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.logger.Warn("failed to release deploy lock", zap.NamedError("err", err))
		}
	}()

	plan, err := c.resolve(ctx, a)
	if err != nil {
		out = aborted(err)
		c.finish(ctx, a, nil, app, out)
		return out
	}
	app = plan.Name
	a.logger = withPlan(a.logger, plan)
	telemetry.SetAttribute(ctx, "deploy.strategy", string(plan.Strategy))

	out = c.run(ctx, a, plan)
	if out.Succeeded() {
		c.cleanup(a, plan, out)
	}
	c.finish(ctx, a, plan, app, out)
	return out
}

func withPlan(logger *zap.Logger, plan *config.DeploymentPlan) *zap.Logger {
	return logger.With(zap.String("app", plan.Name), zap.String("strategy", string(plan.Strategy)))
}

// resolve reads deploy.yml at the attempt's ref and merges it with the host
// config under base
func (c *Controller) resolve(ctx context.Context, a *attempt) (*config.DeploymentPlan, error) {
	host, err := config.LoadHostConfig(filepath.Join(a.base, config.HostConfigFileName))
	if err != nil {
		return nil, err
	}

	timeout := host.Timeouts.Clone
	if timeout <= 0 {
		timeout = config.DefaultTimeouts.Clone
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := c.Fetcher.ReadFile(fetchCtx, a.repo, a.ref, config.DescriptorFileName)
	if err != nil {
		if errors.Is(err, git.ErrFileNotFound) {
			return nil, deployerr.Newf(deployerr.KindConfig, stepDescriptor, "%s not found at %s", config.DescriptorFileName, a.ref)
		}
		return nil, deployerr.Newf(deployerr.KindSourceFetch, stepDescriptor, "failed to read %s at %s: %v", config.DescriptorFileName, a.ref, err)
	}

	desc, err := config.ParseDescriptor(data)
	if err != nil {
		return nil, err
	}
	plan, err := config.NewPlan(desc, host)
	if err != nil {
		return nil, err
	}
	return plan.WithSourceRef(a.ref), nil
}

// run builds the engine for plan and executes the selected strategy
func (c *Controller) run(ctx context.Context, a *attempt, plan *config.DeploymentPlan) *strategy.Outcome {
	engine, err := c.engine(a, plan)
	if err != nil {
		return aborted(err)
	}
	s, err := strategy.New(plan.Strategy, engine)
	if err != nil {
		return aborted(err)
	}

	c.Out.Info("%s strategy, %s app managed by %s", s.Name(), plan.Type, engine.Manager.Kind())
	return s.Deploy(ctx, plan)
}

func (c *Controller) engine(a *attempt, plan *config.DeploymentPlan) (*strategy.Engine, error) {
	env, err := config.LoadEnvFile(a.base, plan.Env)
	if err != nil {
		return nil, deployerr.New(deployerr.KindConfig, stepEngine, err)
	}
	a.redactor.RegisterEnv(env)

	rt, err := runtime.New(plan.Type, a.runner)
	if err != nil {
		return nil, deployerr.New(deployerr.KindConfig, stepEngine, err)
	}

	mgr := c.Manager
	if mgr == nil {
		if mgr, err = procmgr.New(plan, a.runner); err != nil {
			return nil, deployerr.New(deployerr.KindConfig, stepEngine, err)
		}
	}

	executor := hooks.NewExecutor(a.runner, plan)
	executor.Output = func(line string) { c.Out.Verbose("  %s", line) }
	executor.Warn = func(msg string) {
		c.Out.Warning("%s", msg)
		a.logger.Warn("hook flagged", zap.String("finding", msg))
	}

	checker := health.NewChecker(c.Prober)
	checker.OnAttempt = func(at health.Attempt) {
		fields := []zap.Field{
			zap.String("url", at.URL),
			zap.Int("attempt", at.Number),
			zap.Bool("success", at.Success),
			zap.Int("status", at.StatusCode),
			zap.Duration("latency", at.Latency),
		}
		if at.Err != "" {
			fields = append(fields, zap.String("err", at.Err))
		}
		a.logger.Debug("health probe", fields...)
		if at.Success {
			c.Out.Verbose("  attempt %d: %s healthy (%d, %s)", at.Number, at.URL, at.StatusCode, at.Latency.Round(time.Millisecond))
			return
		}
		c.Out.Verbose("  attempt %d: %s unhealthy: %s", at.Number, at.URL, describeAttempt(at))
	}

	smoke := &health.SmokeRunner{
		Prober:  c.Prober,
		Runner:  a.runner,
		BaseDir: a.base,
		Timeout: plan.Timeouts.Smoke,
		Probe:   plan.Timeouts.Probe,
		OnPass: func(test config.SmokeTest) {
			c.Out.Success("smoke test %s passed", test.Label())
		},
	}

	return &strategy.Engine{
		Store:           a.store,
		Manager:         mgr,
		Runtime:         rt,
		Hooks:           executor,
		Checker:         checker,
		Smoke:           smoke,
		Slots:           state.NewSlotStore(a.base),
		Out:             c.Out,
		Logger:          a.logger,
		SimplePolicy:    c.SimplePolicy,
		BlueGreenPolicy: c.BlueGreenPolicy,
		Sleep:           c.Sleep,
	}, nil
}

func describeAttempt(at health.Attempt) string {
	if at.Err != "" {
		return at.Err
	}
	return fmt.Sprintf("status %d", at.StatusCode)
}

// cleanup applies the retention policy after a successful deployment. A
// failure here is reported and never changes the outcome.
func (c *Controller) cleanup(a *attempt, plan *config.DeploymentPlan, out *strategy.Outcome) {
	removed, err := a.store.Cleanup(plan.Retain, out.Pinned...)
	if err != nil {
		c.Out.Warning("cleanup: %v", err)
		a.logger.Warn("release cleanup failed", zap.NamedError("err", err))
	}
	if len(removed) > 0 {
		c.Out.Verbose("removed %d old releases: %s", len(removed), strings.Join(removed, ", "))
		a.logger.Info("releases removed", zap.Strings("releases", removed))
	}
}

// aborted is the outcome of a failure before any strategy state ran
func aborted(err error) *strategy.Outcome {
	step := deployerr.StepOf(err)
	if step == "" {
		step = stepEngine
	}
	return &strategy.Outcome{
		Status:     strategy.StatusAborted,
		Err:        err,
		FailedStep: step,
		Message:    fmt.Sprintf("%s failed: %v", step, err),
	}
}

// finish reports the outcome and records it in history and notifications.
// plan is nil when the attempt failed before a plan was resolved.
func (c *Controller) finish(ctx context.Context, a *attempt, plan *config.DeploymentPlan, app string, out *strategy.Outcome) {
	msg := out.Message
	if out.PostDeployErr != nil {
		msg = fmt.Sprintf("%s; post-deploy hook failed: %v", msg, out.PostDeployErr)
	}
	msg = a.redactor.Redact(msg)
	finished := time.Now()

	c.record(ctx, a, &history.Record{
		ID:         a.id,
		App:        app,
		Ref:        a.ref,
		Strategy:   string(out.Strategy),
		Status:     string(out.Status),
		FailedStep: out.FailedStep,
		Message:    msg,
		ReleaseID:  out.ReleaseID(),
		StartedAt:  a.started,
		FinishedAt: finished,
	})

	event := notification.Event{
		Type:     eventType(out),
		App:      app,
		Strategy: string(out.Strategy),
		Ref:      a.ref,
		Release:  out.ReleaseID(),
		Message:  msg,
		Step:     out.FailedStep,
		Duration: finished.Sub(a.started),
	}
	switch {
	case out.RollbackErr != nil:
		event.Error = a.redactor.Redact(out.RollbackErr.Error())
	case out.Err != nil:
		event.Error = a.redactor.Redact(out.Err.Error())
	case out.PostDeployErr != nil:
		event.Error = a.redactor.Redact(out.PostDeployErr.Error())
	}
	c.notify(ctx, a, plan, event)

	c.report(out, msg)
	a.logger.Info("deployment finished",
		zap.String("status", string(out.Status)),
		zap.String("release", out.ReleaseID()),
		zap.String("failed_step", out.FailedStep),
		zap.Duration("duration", finished.Sub(a.started)))
}

func eventType(out *strategy.Outcome) notification.EventType {
	switch {
	case out.Succeeded():
		return notification.EventDeploySucceeded
	case out.Status == strategy.StatusRolledBack && out.RollbackSucceeded:
		return notification.EventRollbackDone
	case out.Status == strategy.StatusRolledBack:
		return notification.EventRollbackFailed
	default:
		return notification.EventDeployFailed
	}
}

func (c *Controller) report(out *strategy.Outcome, msg string) {
	c.Out.EmptyLine()
	c.Out.Divider()
	switch {
	case out.Succeeded():
		c.Out.Success("%s", msg)
	case out.Status == strategy.StatusRolledBack && out.RollbackSucceeded:
		c.Out.Warning("rolled back: %s", msg)
	case out.Status == strategy.StatusRolledBack:
		c.Out.Error("ROLLBACK FAILED: %s; no release is active", msg)
	default:
		c.Out.Error("aborted: %s", msg)
	}
}

// record stores rec in history. Failures are logged only.
func (c *Controller) record(ctx context.Context, a *attempt, rec *history.Record) {
	repo := c.History
	if repo == nil {
		db, err := history.Open(history.Path(a.base))
		if err != nil {
			a.logger.Warn("failed to open history", zap.NamedError("err", err))
			return
		}
		defer db.Close()
		repo = &history.Repo{DB: db}
	}

	if err := repo.Record(ctx, rec); err != nil {
		c.Out.Warning("failed to record history: %v", err)
		a.logger.Warn("failed to record history", zap.NamedError("err", err))
	}
}

// notify sends event to the configured channels. Without a plan the host
// config is consulted directly so configuration failures are still reported.
func (c *Controller) notify(ctx context.Context, a *attempt, plan *config.DeploymentPlan, event notification.Event) {
	var cfg config.NotificationsConfig
	if plan != nil {
		cfg = plan.Notifications
		event.Environment = plan.Env
	} else if host, err := config.LoadHostConfig(filepath.Join(a.base, config.HostConfigFileName)); err == nil {
		cfg = host.Notifications
		event.Environment = host.Env
	}
	if !cfg.Enabled() {
		return
	}

	if err := notification.NewNotifier(cfg, a.logger).Notify(ctx, event); err != nil {
		c.Out.Warning("notification failed: %v", err)
	}
}
