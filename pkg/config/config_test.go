package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const hostYAML = `
port: 8000
manager: systemd
env: production
`

func TestResolve_Full(t *testing.T) {
	dir := t.TempDir()
	desc := writeFile(t, dir, "deploy.yml", `
name: test-app
type: python
healthCheck: /health
command: python -m uvicorn main:app
deployment:
  strategy: rolling
  batchDelay: 1
hooks:
  preDeploy: ./migrate.sh
  postDeploy: ./notify.sh
`)
	host := writeFile(t, dir, "config.yml", hostYAML)

	plan, err := config.Resolve(desc, host)
	require.NoError(t, err)

	assert.Equal(t, "test-app", plan.Name)
	assert.Equal(t, config.TypePython, plan.Type)
	assert.Equal(t, "/health", plan.HealthCheck)
	assert.Equal(t, "python -m uvicorn main:app", plan.Command)
	assert.Equal(t, config.StrategyRolling, plan.Strategy)
	assert.Equal(t, time.Second, plan.BatchDelay)
	assert.Equal(t, "./migrate.sh", plan.Hooks.PreDeploy)
	assert.Equal(t, "./notify.sh", plan.Hooks.PostDeploy)
	assert.Equal(t, 8000, plan.Port)
	assert.Equal(t, config.ManagerSystemd, plan.Manager)
	assert.Equal(t, "production", plan.Env)
	assert.Equal(t, 8000, plan.BluePort)
	assert.Equal(t, 8001, plan.GreenPort)
	assert.Equal(t, config.DefaultRetain, plan.Retain)
	assert.Equal(t, config.DefaultTimeouts.Install, plan.Timeouts.Install)
}

func TestResolve_Minimal(t *testing.T) {
	dir := t.TempDir()
	desc := writeFile(t, dir, "deploy.yml", "name: minimal-app\ntype: python\nhealthCheck: health\n")
	host := writeFile(t, dir, "config.yml", "port: 9000\n")

	plan, err := config.Resolve(desc, host)
	require.NoError(t, err)

	assert.Equal(t, config.StrategySimple, plan.Strategy)
	assert.Equal(t, "", plan.Command)
	assert.Equal(t, "/health", plan.HealthCheck)
	assert.Equal(t, config.DefaultBatchDelay, plan.BatchDelay)
	assert.Equal(t, config.ManagerSystemd, plan.Manager)
	assert.Equal(t, config.DefaultEnv, plan.Env)
	assert.Equal(t, 1, plan.Instances)
}

func TestParseDescriptor_MissingFields(t *testing.T) {
	cases := map[string]string{
		"name":        "type: python\nhealthCheck: /health\n",
		"type":        "name: missing-type\nhealthCheck: /health\n",
		"healthCheck": "name: app\ntype: node\n",
	}
	for field, content := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := config.ParseDescriptor([]byte(content))
			require.Error(t, err)
			assert.True(t, config.IsConfigError(err))
			assert.Contains(t, err.Error(), "missing required field: "+field)
		})
	}
}

func TestParseDescriptor_InvalidType(t *testing.T) {
	_, err := config.ParseDescriptor([]byte("name: app\ntype: ruby\nhealthCheck: /h\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, deployerr.ErrConfig)
	assert.Contains(t, err.Error(), "invalid type: ruby")
}

func TestParseDescriptor_InvalidStrategy(t *testing.T) {
	_, err := config.ParseDescriptor([]byte("name: app\ntype: node\nhealthCheck: /h\ndeployment:\n  strategy: canary\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid strategy: canary")
}

func TestParseDescriptor_InvalidYAML(t *testing.T) {
	_, err := config.ParseDescriptor([]byte("name: [unterminated"))
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
}

func TestParseDescriptor_SmokeTestDefaults(t *testing.T) {
	desc, err := config.ParseDescriptor([]byte(`
name: app
type: node
healthCheck: /health
deployment:
  strategy: blue-green
  keepInactive: true
smokeTests:
  - endpoint: api/status
    expectedBody: ok
  - script: smoke.sh
`))
	require.NoError(t, err)
	require.Len(t, desc.SmokeTests, 2)

	assert.Equal(t, "/api/status", desc.SmokeTests[0].Endpoint)
	assert.Equal(t, "GET", desc.SmokeTests[0].Method)
	assert.Equal(t, 200, desc.SmokeTests[0].ExpectedStatus)
	assert.Equal(t, "smoke.sh", desc.SmokeTests[1].Script)
	assert.True(t, desc.Deployment.KeepInactive)
}

func TestParseDescriptor_SmokeTestNeedsTarget(t *testing.T) {
	_, err := config.ParseDescriptor([]byte("name: app\ntype: node\nhealthCheck: /h\nsmokeTests:\n  - expectedStatus: 200\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smokeTests[0]")
}

func TestLoadHostConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadHostConfig(filepath.Join(dir, "nope.yml"))
		require.Error(t, err)
		assert.True(t, config.IsConfigError(err))
	})

	t.Run("missing port", func(t *testing.T) {
		path := writeFile(t, dir, "noport.yml", "manager: pm2\n")
		_, err := config.LoadHostConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port")
	})

	t.Run("invalid manager", func(t *testing.T) {
		path := writeFile(t, dir, "badmgr.yml", "port: 8000\nmanager: supervisord\n")
		_, err := config.LoadHostConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid manager")
	})

	t.Run("timeouts and notifications", func(t *testing.T) {
		path := writeFile(t, dir, "full.yml", `
port: 8000
manager: pm2
instances: 2
greenPort: 9001
timeouts:
  install: 30m
  hook: 45s
notifications:
  webhook: http://example.invalid/hook
`)
		host, err := config.LoadHostConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "pm2", host.Manager)
		assert.Equal(t, 2, host.Instances)
		assert.Equal(t, 8000, host.BluePort)
		assert.Equal(t, 9001, host.GreenPort)
		assert.Equal(t, 30*time.Minute, host.Timeouts.Install)
		assert.Equal(t, 45*time.Second, host.Timeouts.Hook)
		assert.True(t, host.Notifications.Enabled())
	})
}

func TestWithSourceRef_Copies(t *testing.T) {
	desc, err := config.ParseDescriptor([]byte("name: app\ntype: static\nhealthCheck: /\n"))
	require.NoError(t, err)
	plan, err := config.NewPlan(desc, &config.HostConfig{Port: 80, Manager: "systemd", Env: "production", Instances: 1, Retain: 3, BluePort: 80, GreenPort: 81})
	require.NoError(t, err)

	bound := plan.WithSourceRef("abc123")
	assert.Equal(t, "abc123", bound.SourceRef)
	assert.Equal(t, "", plan.SourceRef)
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()

	vars, err := config.LoadEnvFile(dir, "staging")
	require.NoError(t, err)
	assert.Empty(t, vars)

	writeFile(t, dir, ".env.staging", "DATABASE_URL=postgres://u:p@db/app\n# comment\nDEBUG=\"false\"\n")
	vars, err = config.LoadEnvFile(dir, "staging")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/app", vars["DATABASE_URL"])
	assert.Equal(t, "false", vars["DEBUG"])
}

func TestDescriptorTemplate(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, config.DescriptorFileName, config.DescriptorTemplate("shop", config.TypeNode))

	desc, err := config.LoadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, "shop", desc.Name)
	assert.Equal(t, string(config.TypeNode), string(desc.Type))
	assert.Equal(t, "simple", string(desc.Deployment.Strategy))
}
