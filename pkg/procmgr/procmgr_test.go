package procmgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	rec := runner.NewRecorder()

	m, err := New(&config.DeploymentPlan{Manager: config.ManagerSystemd}, rec)
	require.NoError(t, err)
	assert.Equal(t, config.ManagerSystemd, m.Kind())

	m, err = New(&config.DeploymentPlan{Manager: config.ManagerPM2, Instances: 2}, rec)
	require.NoError(t, err)
	assert.Equal(t, config.ManagerPM2, m.Kind())

	_, err = New(&config.DeploymentPlan{Manager: "supervisord"}, rec)
	assert.Error(t, err)
}

func TestSystemd_Reload(t *testing.T) {
	rec := runner.NewRecorder()
	s := NewSystemd(rec, t.TempDir(), time.Minute)

	require.NoError(t, s.Reload(context.Background(), "svc"))
	assert.Equal(t, []string{"systemctl reload-or-restart svc"}, rec.Lines())
}

func TestSystemd_ReloadFallsBackToRestart(t *testing.T) {
	rec := runner.NewRecorder().Fail("systemctl reload-or-restart", 1)
	s := NewSystemd(rec, t.TempDir(), time.Minute)

	require.NoError(t, s.Reload(context.Background(), "svc"))
	assert.Equal(t, []string{"systemctl reload-or-restart svc", "systemctl restart svc"}, rec.Lines())
}

func TestSystemd_Failure(t *testing.T) {
	rec := runner.NewRecorder().Fail("systemctl", 1)
	s := NewSystemd(rec, t.TempDir(), time.Minute)

	err := s.Reload(context.Background(), "svc")
	require.Error(t, err)
	assert.ErrorIs(t, err, deployerr.ErrProcessManager)
	assert.Equal(t, StepReload, deployerr.StepOf(err))
}

func TestSystemd_RollingRestartIsRestart(t *testing.T) {
	rec := runner.NewRecorder()
	s := NewSystemd(rec, t.TempDir(), time.Minute)

	require.NoError(t, s.RollingRestart(context.Background(), "svc", 10*time.Second))
	assert.Equal(t, []string{"systemctl restart svc"}, rec.Lines())
}

func TestSystemd_StartWritesUnit(t *testing.T) {
	rec := runner.NewRecorder()
	dir := t.TempDir()
	s := NewSystemd(rec, dir, time.Minute)

	err := s.Start(context.Background(), Unit{
		Name:    "svc-green",
		WorkDir: "/opt/deployments/svc/releases/1700000000",
		Command: `venv/bin/python main.py --name "x"`,
		Port:    8001,
		Env:     map[string]string{"B": "2", "A": "1"},
	})
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "svc-green.service"))
	require.NoError(t, err)
	unit := string(content)
	assert.Contains(t, unit, "WorkingDirectory=/opt/deployments/svc/releases/1700000000")
	assert.Contains(t, unit, `Environment="PORT=8001"`)
	assert.Contains(t, unit, "Environment=\"A=1\"\nEnvironment=\"B=2\"")
	assert.Contains(t, unit, `ExecStart=/bin/sh -c "venv/bin/python main.py --name \"x\""`)

	assert.Equal(t, []string{"systemctl daemon-reload", "systemctl restart svc-green"}, rec.Lines())
}

func TestRenderUnit_RequiresCommand(t *testing.T) {
	_, err := RenderUnit(Unit{Name: "svc"})
	assert.Error(t, err)
}

const jlist = `[
  {"name":"svc","pm_id":0,"pid":100,"pm2_env":{"status":"online"}},
  {"name":"other","pm_id":1,"pid":101,"pm2_env":{"status":"online"}},
  {"name":"svc","pm_id":2,"pid":102,"pm2_env":{"status":"online"}}
]`

func TestPM2_RollingRestart(t *testing.T) {
	rec := runner.NewRecorder().On("pm2 jlist", func(cmd runner.Command) (*runner.Result, error) {
		return &runner.Result{Stdout: jlist}, nil
	})
	p := NewPM2(rec, 2, time.Minute)

	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, p.RollingRestart(context.Background(), "svc", time.Second))
	assert.Equal(t, []string{
		"pm2 jlist",
		"pm2 restart 0 --update-env",
		"pm2 restart 2 --update-env",
	}, rec.Lines())
	assert.Equal(t, []time.Duration{time.Second}, slept, "one pause between two instances")
}

func TestPM2_RollingRestartNoInstances(t *testing.T) {
	rec := runner.NewRecorder().On("pm2 jlist", func(cmd runner.Command) (*runner.Result, error) {
		return &runner.Result{Stdout: "[]"}, nil
	})
	err := NewPM2(rec, 1, time.Minute).RollingRestart(context.Background(), "svc", 0)
	assert.ErrorIs(t, err, deployerr.ErrProcessManager)
}

func TestPM2_ReloadAndStart(t *testing.T) {
	rec := runner.NewRecorder()
	p := NewPM2(rec, 2, time.Minute)

	require.NoError(t, p.Reload(context.Background(), "svc"))
	require.NoError(t, p.Start(context.Background(), Unit{Name: "svc-blue", Command: "npm start", WorkDir: "/srv/r1", Port: 8000}))

	assert.Equal(t, []string{
		"pm2 reload svc --update-env",
		"pm2 delete svc-blue",
		"pm2 start npm start --name svc-blue --update-env --cwd /srv/r1 -i 2",
		"pm2 save",
	}, rec.Lines())

	calls := rec.Calls()
	assert.Equal(t, "8000", calls[2].Command.Env["PORT"])
}

func TestFake(t *testing.T) {
	f := NewFake().Fail(StepReload)

	require.NoError(t, f.Start(context.Background(), Unit{Name: "svc-blue"}))
	assert.True(t, f.IsRunning("svc-blue"))
	require.NoError(t, f.Stop(context.Background(), "svc-blue"))
	assert.False(t, f.IsRunning("svc-blue"))

	err := f.Reload(context.Background(), "svc")
	assert.ErrorIs(t, err, deployerr.ErrProcessManager)
	assert.Equal(t, 1, f.Count(StepReload))
}
