package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/redentordev/paradigm/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrap(t *testing.T) {
	base := filepath.Join(t.TempDir(), "svc")

	res, err := Bootstrap(Options{App: "svc", Base: base, Port: 8000, Binary: "/usr/local/bin/paradigm"}, "1.0.0")
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(base, "releases"))
	assert.DirExists(t, filepath.Join(base, "logs"))
	assert.Len(t, res.Created, 3)

	host, err := config.LoadHostConfig(filepath.Join(base, config.HostConfigFileName))
	require.NoError(t, err)
	assert.Equal(t, 8000, host.Port)
	assert.Equal(t, string(config.ManagerSystemd), host.Manager)

	repo, err := git.PlainOpen(res.Repo)
	require.NoError(t, err)
	cfg, err := repo.Config()
	require.NoError(t, err)
	assert.True(t, cfg.Core.IsBare)

	info, err := os.Stat(res.Hook)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	hook, err := os.ReadFile(res.Hook)
	require.NoError(t, err)
	assert.Contains(t, string(hook), `"refs/heads/main"`)
	assert.Contains(t, string(hook), `/usr/local/bin/paradigm execute "`+res.Repo+`" "$newrev" --base "`+base+`"`)

	assert.Equal(t, "1.0.0", res.Manifest.Version)
	assert.True(t, res.Manifest.LastUpgrade.IsZero())
}

func TestBootstrap_Idempotent(t *testing.T) {
	base := t.TempDir()
	opts := Options{App: "svc", Base: base, Port: 8000}
	_, err := Bootstrap(opts, "1.0.0")
	require.NoError(t, err)

	hostPath := filepath.Join(base, config.HostConfigFileName)
	require.NoError(t, os.WriteFile(hostPath, []byte("port: 9000\n"), 0644))

	opts.Branch = "release"
	res, err := Bootstrap(opts, "1.1.0")
	require.NoError(t, err)
	assert.Empty(t, res.Created)

	data, err := os.ReadFile(hostPath)
	require.NoError(t, err)
	assert.Equal(t, "port: 9000\n", string(data), "existing host config is kept")

	hook, err := os.ReadFile(res.Hook)
	require.NoError(t, err)
	assert.Contains(t, string(hook), "refs/heads/release")

	m, err := ReadManifest(base)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", m.Version)
	assert.False(t, m.LastUpgrade.IsZero())
}

func TestBootstrap_Validation(t *testing.T) {
	_, err := Bootstrap(Options{Base: t.TempDir(), Port: 8000}, "dev")
	assert.Error(t, err)

	_, err = Bootstrap(Options{App: "svc", Base: t.TempDir()}, "dev")
	assert.Error(t, err)
}

func TestReadManifest_NotSetup(t *testing.T) {
	_, err := ReadManifest(t.TempDir())
	assert.ErrorIs(t, err, ErrNotSetup)
}
