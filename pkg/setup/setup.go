// Package setup bootstraps a deployment base on the host: the directory
// layout, the host config and a bare repository whose post-receive hook
// triggers a deployment for every push to the deploy branch.
package setup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/logging"
	"github.com/redentordev/paradigm/pkg/release"
)

const (
	// ManifestFile records which version set up the base
	ManifestFile = ".setup.json"
	// HookName is the git hook that triggers deployments
	HookName = "post-receive"
	// DefaultBranch is deployed when Options.Branch is empty
	DefaultBranch = "main"
)

// ErrNotSetup is returned when a base has no manifest
var ErrNotSetup = errors.New("deployment base is not set up")

var hookTemplate = template.Must(template.New("hook").Parse(`#!/bin/sh
# Installed by paradigm setup. Deploys every push to {{.Branch}}.
zero=0000000000000000000000000000000000000000
while read oldrev newrev refname; do
	[ "$newrev" = "$zero" ] && continue
	if [ "$refname" = "refs/heads/{{.Branch}}" ]; then
		{{.Binary}} execute "{{.Repo}}" "$newrev" --base "{{.Base}}"
	fi
done
`))

// Options configures Bootstrap
type Options struct {
	App     string
	Base    string
	Repo    string // bare repository path, default <base>/repo.git
	Port    int
	Manager config.ManagerKind
	Env     string
	Branch  string
	Binary  string // paradigm executable invoked by the hook
}

func (o *Options) defaults() {
	if o.Repo == "" {
		o.Repo = filepath.Join(o.Base, "repo.git")
	}
	if o.Manager == "" {
		o.Manager = config.ManagerSystemd
	}
	if o.Env == "" {
		o.Env = config.DefaultEnv
	}
	if o.Branch == "" {
		o.Branch = DefaultBranch
	}
	if o.Binary == "" {
		o.Binary = "paradigm"
	}
}

// Manifest is the setup record kept under the base
type Manifest struct {
	Version     string    `json:"version"`
	App         string    `json:"app"`
	Repo        string    `json:"repo"`
	Branch      string    `json:"branch"`
	InstalledAt time.Time `json:"installed_at"`
	LastUpgrade time.Time `json:"last_upgrade,omitempty"`
}

// Result lists what Bootstrap created; anything already present is kept
type Result struct {
	Repo     string
	Hook     string
	Created  []string
	Manifest *Manifest
}

// Bootstrap prepares opts.Base for deployments. It is idempotent: existing
// config, env files and repositories are left alone, while the hook and
// manifest are rewritten so a newer binary can upgrade them.
func Bootstrap(opts Options, version string) (*Result, error) {
	if opts.App == "" || opts.Base == "" {
		return nil, fmt.Errorf("app name and base directory are required")
	}
	if opts.Port <= 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", opts.Port)
	}
	opts.defaults()

	res := &Result{Repo: opts.Repo}

	for _, dir := range []string{opts.Base, filepath.Join(opts.Base, release.ReleasesDir), filepath.Join(opts.Base, logging.LogsDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	hostPath := filepath.Join(opts.Base, config.HostConfigFileName)
	created, err := writeIfMissing(hostPath, []byte(config.HostConfigTemplate(opts.App, opts.Port, opts.Manager, opts.Env)), 0644)
	if err != nil {
		return nil, err
	}
	if created {
		res.Created = append(res.Created, hostPath)
	}

	envPath := config.EnvFilePath(opts.Base, opts.Env)
	created, err = writeIfMissing(envPath, []byte("# KEY=value pairs copied into every release as .env\n"), 0600)
	if err != nil {
		return nil, err
	}
	if created {
		res.Created = append(res.Created, envPath)
	}

	if _, err := git.PlainOpen(opts.Repo); err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("failed to open %s: %w", opts.Repo, err)
		}
		if _, err := git.PlainInit(opts.Repo, true); err != nil {
			return nil, fmt.Errorf("failed to create bare repository: %w", err)
		}
		res.Created = append(res.Created, opts.Repo)
	}

	res.Hook, err = installHook(opts)
	if err != nil {
		return nil, err
	}

	res.Manifest, err = writeManifest(opts, version)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RenderHook renders the post-receive hook for opts
func RenderHook(opts Options) ([]byte, error) {
	opts.defaults()
	var buf bytes.Buffer
	if err := hookTemplate.Execute(&buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func installHook(opts Options) (string, error) {
	content, err := RenderHook(opts)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(opts.Repo, "hooks")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create hooks directory: %w", err)
	}
	path := filepath.Join(dir, HookName)
	if err := os.WriteFile(path, content, 0755); err != nil {
		return "", fmt.Errorf("failed to write %s hook: %w", HookName, err)
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// ReadManifest returns the manifest under base
func ReadManifest(base string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(base, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotSetup
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
	}
	return &m, nil
}

func writeManifest(opts Options, version string) (*Manifest, error) {
	now := time.Now().UTC()
	m, err := ReadManifest(opts.Base)
	switch {
	case errors.Is(err, ErrNotSetup):
		m = &Manifest{InstalledAt: now}
	case err != nil:
		return nil, err
	default:
		m.LastUpgrade = now
	}
	m.Version = version
	m.App = opts.App
	m.Repo = opts.Repo
	m.Branch = opts.Branch

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(opts.Base, ManifestFile), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", ManifestFile, err)
	}
	return m, nil
}

func writeIfMissing(path string, content []byte, mode os.FileMode) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
