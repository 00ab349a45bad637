package strategy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/formatter"
	"github.com/redentordev/paradigm/pkg/health"
	"github.com/redentordev/paradigm/pkg/hooks"
	"github.com/redentordev/paradigm/pkg/procmgr"
	"github.com/redentordev/paradigm/pkg/release"
	"github.com/redentordev/paradigm/pkg/runner"
	"github.com/redentordev/paradigm/pkg/runtime"
	"github.com/redentordev/paradigm/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// app is a fake application endpoint whose health can be flipped
type app struct {
	srv    *httptest.Server
	status atomic.Int32
	hits   atomic.Int32
}

func newApp(t *testing.T) *app {
	t.Helper()
	a := &app{}
	a.status.Store(http.StatusOK)
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.hits.Add(1)
		w.WriteHeader(int(a.status.Load()))
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *app) port(t *testing.T) int {
	t.Helper()
	port, err := strconv.Atoi(a.srv.URL[strings.LastIndex(a.srv.URL, ":")+1:])
	require.NoError(t, err)
	return port
}

type harness struct {
	base    string
	engine  *Engine
	store   *release.Store
	mgr     *procmgr.Fake
	rec     *runner.Recorder
	out     *bytes.Buffer
	plan    *config.DeploymentPlan
	sleepMu sync.Mutex
	slept   []time.Duration
}

func newHarness(t *testing.T, strategy config.StrategyName) *harness {
	t.Helper()
	base := t.TempDir()

	fetcher := release.NewFakeFetcher()
	for _, ref := range []string{"v1", "v2", "v3"} {
		fetcher.Add(ref, map[string]string{"index.html": "<h1>" + ref + "</h1>\n"})
	}

	plan := &config.DeploymentPlan{
		Name:        "svc",
		Type:        config.TypeStatic,
		HealthCheck: "/health",
		Strategy:    strategy,
		Manager:     config.ManagerSystemd,
		Env:         "production",
		BatchDelay:  time.Second,
		Retain:      3,
		Timeouts:    config.DefaultTimeouts,
		SourceRef:   "v1",
	}

	rt, err := runtime.New(config.TypeStatic, nil)
	require.NoError(t, err)

	h := &harness{
		base:  base,
		store: release.NewStore(base, "/srv/git/svc.git", fetcher),
		mgr:   procmgr.NewFake(),
		rec:   runner.NewRecorder(),
		out:   &bytes.Buffer{},
		plan:  plan,
	}
	h.engine = &Engine{
		Store:           h.store,
		Manager:         h.mgr,
		Runtime:         rt,
		Hooks:           hooks.NewExecutor(h.rec, plan),
		Checker:         health.NewChecker(health.NewHTTPProber()),
		Smoke:           &health.SmokeRunner{Prober: health.NewHTTPProber(), Runner: h.rec, BaseDir: base},
		Slots:           state.NewSlotStore(base),
		Out:             formatter.NewWriter(h.out, true, true),
		SimplePolicy:    health.Policy{Attempts: 2, Timeout: time.Second},
		BlueGreenPolicy: health.Policy{Attempts: 2, Timeout: time.Second},
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleepMu.Lock()
			defer h.sleepMu.Unlock()
			h.slept = append(h.slept, d)
			return nil
		},
	}
	return h
}

func (h *harness) deploy(t *testing.T, ref string) *Outcome {
	t.Helper()
	s, err := New(h.plan.Strategy, h.engine)
	require.NoError(t, err)
	return s.Deploy(context.Background(), h.plan.WithSourceRef(ref))
}

func (h *harness) link(t *testing.T, name string) string {
	t.Helper()
	target, err := os.Readlink(filepath.Join(h.base, name))
	if os.IsNotExist(err) {
		return ""
	}
	require.NoError(t, err)
	return filepath.Base(target)
}

func stateNames(o *Outcome) []string {
	var names []string
	for _, s := range o.States {
		names = append(names, s.State)
	}
	return names
}

func TestNew(t *testing.T) {
	for name, want := range map[config.StrategyName]config.StrategyName{
		"":                       config.StrategySimple,
		config.StrategySimple:    config.StrategySimple,
		config.StrategyBlueGreen: config.StrategyBlueGreen,
		config.StrategyRolling:   config.StrategyRolling,
	} {
		s, err := New(name, &Engine{})
		require.NoError(t, err)
		assert.Equal(t, want, s.Name())
	}

	_, err := New("canary", &Engine{})
	assert.ErrorIs(t, err, deployerr.ErrConfig)
}

func TestSimple_Success(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategySimple)
	h.plan.Port = a.port(t)

	out := h.deploy(t, "v1")
	require.True(t, out.Succeeded(), out.Message)
	assert.Equal(t, 0, out.ExitCode())
	assert.Equal(t, []string{"DepsInstalled", "PreHookRun", "Activated", "Reloaded", "HealthChecked"}, stateNames(out))
	assert.Equal(t, out.ReleaseID(), h.link(t, release.CurrentLink))
	assert.Equal(t, "", h.link(t, release.PreviousLink))
	assert.Equal(t, 1, h.mgr.Count(procmgr.StepReload))
	assert.Contains(t, h.out.String(), "[simple] Cloned")
	assert.Contains(t, h.out.String(), "[simple] Succeeded")

	first := out.ReleaseID()
	out = h.deploy(t, "v2")
	require.True(t, out.Succeeded())
	assert.Equal(t, out.ReleaseID(), h.link(t, release.CurrentLink))
	assert.Equal(t, first, h.link(t, release.PreviousLink))
}

func TestSimple_HealthFailureRestoresPointers(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategySimple)
	h.plan.Port = a.port(t)

	require.True(t, h.deploy(t, "v1").Succeeded())
	require.True(t, h.deploy(t, "v2").Succeeded())
	current, previous := h.link(t, release.CurrentLink), h.link(t, release.PreviousLink)
	reloads := h.mgr.Count(procmgr.StepReload)

	a.status.Store(http.StatusServiceUnavailable)
	out := h.deploy(t, "v3")

	assert.Equal(t, StatusRolledBack, out.Status)
	assert.Equal(t, 1, out.ExitCode())
	assert.Equal(t, health.StepHealthCheck, out.FailedStep)
	assert.ErrorIs(t, out.Err, deployerr.ErrHealthCheck)
	assert.True(t, out.RollbackSucceeded)
	assert.Equal(t, current, out.Restored)

	assert.Equal(t, current, h.link(t, release.CurrentLink), "current is restored")
	assert.Equal(t, previous, h.link(t, release.PreviousLink), "previous is restored")
	assert.Equal(t, reloads+2, h.mgr.Count(procmgr.StepReload), "reload for the deploy and for the rollback")
	assert.DirExists(t, out.Release.Path, "failed release stays for diagnostics")
	assert.Contains(t, out.Message, "restored release "+current)
}

func TestSimple_FirstDeployFailureLeavesNoCurrent(t *testing.T) {
	a := newApp(t)
	a.status.Store(http.StatusInternalServerError)
	h := newHarness(t, config.StrategySimple)
	h.plan.Port = a.port(t)

	out := h.deploy(t, "v1")
	assert.Equal(t, StatusRolledBack, out.Status)
	assert.False(t, out.RollbackSucceeded)
	assert.ErrorIs(t, out.RollbackErr, deployerr.ErrRollback)
	assert.Equal(t, "", h.link(t, release.CurrentLink), "current never points at an unhealthy release")
	assert.Contains(t, h.out.String(), "ROLLBACK FAILED")
}

func TestSimple_PreHookFailureAborts(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategySimple)
	h.plan.Port = a.port(t)
	require.True(t, h.deploy(t, "v1").Succeeded())
	current := h.link(t, release.CurrentLink)
	reloads := h.mgr.Count(procmgr.StepReload)

	h.plan.Hooks.PreDeploy = "./migrate.sh"
	h.rec.Fail("sh -c ./migrate.sh", 1)

	out := h.deploy(t, "v2")
	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, hooks.StepPreDeploy, out.FailedStep)
	assert.ErrorIs(t, out.Err, deployerr.ErrHook)
	assert.Equal(t, current, h.link(t, release.CurrentLink))
	assert.Equal(t, reloads, h.mgr.Count(procmgr.StepReload), "no process-manager action after an abort")
}

func TestSimple_HookTimeoutAborts(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategySimple)
	h.plan.Port = a.port(t)
	require.True(t, h.deploy(t, "v1").Succeeded())
	current := h.link(t, release.CurrentLink)
	reloads := h.mgr.Count(procmgr.StepReload)

	h.plan.Hooks.PreDeploy = "sleep 5"
	h.plan.Timeouts.Hook = 100 * time.Millisecond
	h.engine.Hooks = hooks.NewExecutor(runner.NewExecRunner(nil), h.plan)

	start := time.Now()
	out := h.deploy(t, "v2")
	assert.Less(t, time.Since(start), 4*time.Second, "the hung hook is killed")
	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, hooks.StepPreDeploy, out.FailedStep)
	assert.ErrorIs(t, out.Err, deployerr.ErrHook)
	assert.ErrorIs(t, out.Err, runner.ErrTimeout)
	assert.Equal(t, current, h.link(t, release.CurrentLink))
	assert.Equal(t, reloads, h.mgr.Count(procmgr.StepReload))
}

func TestRolling_InstallTimeoutAborts(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategyRolling)
	h.plan.Port = a.port(t)
	require.True(t, h.deploy(t, "v1").Succeeded())
	current, previous := h.link(t, release.CurrentLink), h.link(t, release.PreviousLink)
	rolling := h.mgr.Count(procmgr.StepRolling)

	h.plan.Type = config.TypePython
	h.plan.Timeouts.Install = time.Second
	rt, err := runtime.New(config.TypePython, h.rec)
	require.NoError(t, err)
	h.engine.Runtime = rt
	h.rec.On("python3 -m venv", func(cmd runner.Command) (*runner.Result, error) {
		assert.Equal(t, time.Second, cmd.Timeout)
		return &runner.Result{ExitCode: -1}, fmt.Errorf("python3: %w after %s", runner.ErrTimeout, cmd.Timeout)
	})

	out := h.deploy(t, "v2")
	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, release.StepInstall, out.FailedStep)
	assert.ErrorIs(t, out.Err, deployerr.ErrDependency)
	assert.ErrorIs(t, out.Err, runner.ErrTimeout)
	assert.Equal(t, current, h.link(t, release.CurrentLink))
	assert.Equal(t, previous, h.link(t, release.PreviousLink))
	assert.Equal(t, rolling, h.mgr.Count(procmgr.StepRolling), "nothing restarts after an abort")
}

func TestSimple_FetchFailureAborts(t *testing.T) {
	h := newHarness(t, config.StrategySimple)

	out := h.deploy(t, "does-not-exist")
	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, release.StepClone, out.FailedStep)
	assert.ErrorIs(t, out.Err, deployerr.ErrSourceFetch)
	assert.Nil(t, out.Release)
	assert.Empty(t, h.mgr.Calls())
}

func TestSimple_PostHookFailureIsReported(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategySimple)
	h.plan.Port = a.port(t)
	h.plan.Hooks.PostDeploy = "./notify.sh"
	h.rec.Fail("sh -c ./notify.sh", 2)

	out := h.deploy(t, "v1")
	assert.True(t, out.Succeeded())
	assert.ErrorIs(t, out.PostDeployErr, deployerr.ErrHook)
	assert.Equal(t, out.ReleaseID(), h.link(t, release.CurrentLink))
}

func TestSimple_ReloadFailureStartsService(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategySimple)
	h.plan.Port = a.port(t)
	h.mgr.Fail(procmgr.StepReload)

	out := h.deploy(t, "v1")
	require.True(t, out.Succeeded())

	var started *procmgr.Unit
	for _, c := range h.mgr.Calls() {
		if c.Op == procmgr.StepStart {
			started = c.Unit
		}
	}
	require.NotNil(t, started)
	assert.Equal(t, "svc", started.Name)
	assert.Equal(t, filepath.Join(h.base, release.CurrentLink), started.WorkDir)
	assert.Equal(t, h.plan.Port, started.Port)
}

func TestRolling_Success(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategyRolling)
	h.plan.Port = a.port(t)
	h.plan.Manager = config.ManagerPM2

	out := h.deploy(t, "v1")
	require.True(t, out.Succeeded(), out.Message)
	assert.Equal(t, []string{"DepsInstalled", "PreHookRun", "CurrentRepointed", "RollingRestartIssued", "StabilizationWait", "HealthChecked"}, stateNames(out))

	calls := h.mgr.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, procmgr.StepRolling, calls[0].Op)
	assert.Equal(t, "svc", calls[0].Service)
	assert.Equal(t, time.Second, calls[0].BatchDelay)
	assert.Equal(t, []time.Duration{time.Second}, h.slept)
	assert.Equal(t, int32(1), a.hits.Load(), "health check runs once, after all instances")
}

func TestRolling_FailureRollsBack(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategyRolling)
	h.plan.Port = a.port(t)

	require.True(t, h.deploy(t, "v1").Succeeded())
	current := h.link(t, release.CurrentLink)

	a.status.Store(http.StatusBadGateway)
	out := h.deploy(t, "v2")
	assert.Equal(t, StatusRolledBack, out.Status)
	assert.True(t, out.RollbackSucceeded)
	assert.Equal(t, current, h.link(t, release.CurrentLink))
	assert.Equal(t, 3, h.mgr.Count(procmgr.StepRolling), "one per deploy plus one for the rollback")
}

func TestRolling_ManagerFailureIsNotFatal(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategyRolling)
	h.plan.Port = a.port(t)
	require.True(t, h.deploy(t, "v1").Succeeded())

	h.mgr.Fail(procmgr.StepRolling)
	out := h.deploy(t, "v2")
	assert.True(t, out.Succeeded(), "the health check is the authoritative gate")
	assert.Contains(t, h.out.String(), "process manager")
	assert.Equal(t, 0, h.mgr.Count(procmgr.StepStart), "an existing service is never replaced")
}

func TestRolling_FirstDeployStartsService(t *testing.T) {
	a := newApp(t)
	h := newHarness(t, config.StrategyRolling)
	h.plan.Port = a.port(t)
	h.plan.Manager = config.ManagerPM2
	h.engine.Manager = procmgr.NewPM2(h.rec, 2, time.Minute)
	h.rec.On("pm2 jlist", func(cmd runner.Command) (*runner.Result, error) {
		return &runner.Result{Stdout: "[]"}, nil
	})

	out := h.deploy(t, "v1")
	require.True(t, out.Succeeded(), out.Message)
	assert.Equal(t, out.ReleaseID(), h.link(t, release.CurrentLink))
	assert.Equal(t, 1, h.rec.Count("pm2 jlist"))
	assert.Equal(t, 1, h.rec.Count("pm2 start "))

	var start runner.Command
	for _, c := range h.rec.Calls() {
		if strings.HasPrefix(c.Line(), "pm2 start ") {
			start = c.Command
		}
	}
	assert.Contains(t, start.Args, "svc")
	assert.Contains(t, start.Args, filepath.Join(h.base, release.CurrentLink))
	assert.Equal(t, strconv.Itoa(h.plan.Port), start.Env["PORT"])
	assert.NotContains(t, h.out.String(), "no pm2 instances")
}

func blueGreen(t *testing.T) (*harness, *app, *app) {
	t.Helper()
	blue, green := newApp(t), newApp(t)
	h := newHarness(t, config.StrategyBlueGreen)
	h.plan.BluePort = blue.port(t)
	h.plan.GreenPort = green.port(t)
	return h, blue, green
}

func loadSlots(t *testing.T, h *harness) *state.Slots {
	t.Helper()
	slots, err := h.engine.Slots.Load(h.plan.BluePort, h.plan.GreenPort)
	require.NoError(t, err)
	return slots
}

func TestBlueGreen_FirstDeploy(t *testing.T) {
	h, blue, green := blueGreen(t)

	out := h.deploy(t, "v1")
	require.True(t, out.Succeeded(), out.Message)
	assert.Equal(t, state.Blue, out.Slot)
	assert.Equal(t, []string{
		"InactiveSlotSelected", "DepsInstalledInInactive", "PreHookRun", "InactiveStarted",
		"InactiveHealthChecked", "SmokeTestsRun", "TrafficSwitched",
	}, stateNames(out))

	assert.True(t, h.mgr.IsRunning("svc-blue"))
	assert.Equal(t, 0, h.mgr.Count(procmgr.StepStop))
	assert.Equal(t, int32(0), green.hits.Load())
	assert.Positive(t, blue.hits.Load())

	slots := loadSlots(t, h)
	assert.Equal(t, state.Blue, slots.Active)
	assert.Equal(t, out.ReleaseID(), slots.Get(state.Blue).Release)
	assert.Equal(t, out.ReleaseID(), h.link(t, release.CurrentLink))
	assert.Equal(t, []string{out.ReleaseID()}, out.Pinned)

	var unit *procmgr.Unit
	for _, c := range h.mgr.Calls() {
		if c.Op == procmgr.StepStart {
			unit = c.Unit
		}
	}
	require.NotNil(t, unit)
	assert.Equal(t, h.plan.BluePort, unit.Port)
	assert.Equal(t, out.Release.Path, unit.WorkDir)
	assert.Equal(t, "blue", unit.Env["SLOT"])
}

func TestBlueGreen_SwitchStopsOldSlot(t *testing.T) {
	h, _, _ := blueGreen(t)
	first := h.deploy(t, "v1")
	require.True(t, first.Succeeded())

	out := h.deploy(t, "v2")
	require.True(t, out.Succeeded(), out.Message)
	assert.Equal(t, state.Green, out.Slot)

	slots := loadSlots(t, h)
	assert.Equal(t, state.Green, slots.Active)
	assert.False(t, slots.Get(state.Blue).Running)
	assert.False(t, h.mgr.IsRunning("svc-blue"))
	assert.True(t, h.mgr.IsRunning("svc-green"))
	assert.Equal(t, first.ReleaseID(), h.link(t, release.PreviousLink))
	assert.ElementsMatch(t, []string{first.ReleaseID(), out.ReleaseID()}, out.Pinned)
}

func TestBlueGreen_KeepInactive(t *testing.T) {
	h, _, _ := blueGreen(t)
	h.plan.KeepInactive = true
	require.True(t, h.deploy(t, "v1").Succeeded())
	require.True(t, h.deploy(t, "v2").Succeeded())

	assert.Equal(t, 0, h.mgr.Count(procmgr.StepStop))
	assert.True(t, h.mgr.IsRunning("svc-blue"))
	assert.True(t, loadSlots(t, h).Get(state.Blue).Running)
}

func TestBlueGreen_SmokeFailureNeverSwitches(t *testing.T) {
	h, _, _ := blueGreen(t)
	require.True(t, h.deploy(t, "v1").Succeeded())
	current := h.link(t, release.CurrentLink)

	h.plan.SmokeTests = []config.SmokeTest{
		{Name: "status", Endpoint: "/health"},
		{Name: "version", Endpoint: "/health", ExpectedBody: "2.0.0"},
	}
	out := h.deploy(t, "v2")

	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, health.StepSmokeTests, out.FailedStep)
	assert.ErrorIs(t, out.Err, deployerr.ErrSmokeTest)
	assert.Contains(t, out.Err.Error(), "version")
	assert.Contains(t, out.Message, "blue is still serving")

	slots := loadSlots(t, h)
	assert.Equal(t, state.Blue, slots.Active, "no traffic switch")
	assert.Equal(t, current, h.link(t, release.CurrentLink))
	assert.Equal(t, 0, h.mgr.Count(procmgr.StepStop), "active slot is never stopped")
	assert.True(t, h.mgr.IsRunning("svc-blue"))
	assert.True(t, h.mgr.IsRunning("svc-green"), "failed slot is left running for inspection")
}

func TestBlueGreen_HealthFailureAborts(t *testing.T) {
	h, _, green := blueGreen(t)
	require.True(t, h.deploy(t, "v1").Succeeded())
	current := h.link(t, release.CurrentLink)

	green.status.Store(http.StatusServiceUnavailable)
	out := h.deploy(t, "v2")

	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, health.StepHealthCheck, out.FailedStep)
	assert.Equal(t, int32(2), green.hits.Load())
	assert.Equal(t, state.Blue, loadSlots(t, h).Active)
	assert.Equal(t, current, h.link(t, release.CurrentLink))
	assert.Equal(t, 0, h.mgr.Count(procmgr.StepStop))
}

func TestBlueGreen_PreHookFailureStartsNothing(t *testing.T) {
	h, _, _ := blueGreen(t)
	h.plan.Hooks.PreDeploy = "exit 1"
	h.rec.Fail("sh -c exit 1", 1)

	out := h.deploy(t, "v1")
	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, 0, h.mgr.Count(procmgr.StepStart))
	assert.Equal(t, "", loadSlots(t, h).Active)
}
