package procmgr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/runner"
)

// DefaultUnitDir is where generated unit files are written
const DefaultUnitDir = "/etc/systemd/system"

var unitTemplate = template.Must(template.New("unit").Funcs(template.FuncMap{
	"quote": quoteExec,
}).Parse(`[Unit]
Description={{.Description}}
After=network.target

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
Environment="PORT={{.Port}}"
{{- range .Env}}
Environment="{{.}}"
{{- end}}
ExecStart=/bin/sh -c {{quote .Command}}
Restart=always

[Install]
WantedBy=multi-user.target
`))

// quoteExec double-quotes an ExecStart argument. systemd treats % as a
// specifier prefix, so it is doubled.
func quoteExec(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "%", "%%")
	return `"` + s + `"`
}

// Systemd controls single-instance services through systemctl
type Systemd struct {
	runner  runner.Runner
	unitDir string
	timeout time.Duration
}

// NewSystemd creates a systemd manager writing units into unitDir
func NewSystemd(r runner.Runner, unitDir string, timeout time.Duration) *Systemd {
	if unitDir == "" {
		unitDir = DefaultUnitDir
	}
	return &Systemd{runner: r, unitDir: unitDir, timeout: timeout}
}

// Kind implements Manager
func (s *Systemd) Kind() config.ManagerKind { return config.ManagerSystemd }

// Reload issues reload-or-restart, falling back to a plain restart
func (s *Systemd) Reload(ctx context.Context, service string) error {
	if err := s.systemctl(ctx, StepReload, "reload-or-restart", service); err == nil {
		return nil
	}
	return s.systemctl(ctx, StepReload, "restart", service)
}

// Restart implements Manager
func (s *Systemd) Restart(ctx context.Context, service string) error {
	return s.systemctl(ctx, StepRestart, "restart", service)
}

// RollingRestart is a plain restart: a systemd service is a single instance
func (s *Systemd) RollingRestart(ctx context.Context, service string, batchDelay time.Duration) error {
	return s.systemctl(ctx, StepRolling, "restart", service)
}

// Start writes the unit file, reloads systemd and restarts the unit so a
// running slot picks up the new definition
func (s *Systemd) Start(ctx context.Context, unit Unit) error {
	content, err := RenderUnit(unit)
	if err != nil {
		return deployerr.New(deployerr.KindProcessManager, StepStart, err)
	}

	path := filepath.Join(s.unitDir, unit.Name+".service")
	if err := os.MkdirAll(s.unitDir, 0755); err != nil {
		return deployerr.Newf(deployerr.KindProcessManager, StepStart, "failed to create unit directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return deployerr.Newf(deployerr.KindProcessManager, StepStart, "failed to write %s: %v", path, err)
	}

	if err := s.systemctl(ctx, StepStart, "daemon-reload"); err != nil {
		return err
	}
	return s.systemctl(ctx, StepStart, "restart", unit.Name)
}

// Stop implements Manager
func (s *Systemd) Stop(ctx context.Context, service string) error {
	return s.systemctl(ctx, StepStop, "stop", service)
}

func (s *Systemd) systemctl(ctx context.Context, step string, args ...string) error {
	cmd := runner.Command{Name: "systemctl", Args: args, Timeout: s.timeout}
	res, err := s.runner.Run(ctx, cmd)
	if err != nil {
		return managerErr(step, cmd, res, err)
	}
	return nil
}

// RenderUnit renders a systemd unit file for unit
func RenderUnit(unit Unit) ([]byte, error) {
	if unit.Name == "" || unit.Command == "" {
		return nil, fmt.Errorf("unit requires a name and a command")
	}
	if unit.Description == "" {
		unit.Description = unit.Name
	}

	var env []string
	for k, v := range unit.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, struct {
		Unit
		Env []string
	}{unit, env})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
