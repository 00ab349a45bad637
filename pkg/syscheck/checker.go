// Package syscheck verifies that the host has the tools a deployment needs
// before the first push arrives.
package syscheck

import (
	"context"
	"strings"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/formatter"
	"github.com/redentordev/paradigm/pkg/runner"
)

// Requirement represents a system requirement
type Requirement struct {
	Name        string
	Command     string
	Args        []string
	Required    bool
	Installed   bool
	Version     string
	InstallHint string
}

// CheckResult holds the results of system checks
type CheckResult struct {
	Requirements []Requirement
	AllRequired  bool
	AllOptional  bool
}

// Missing returns the required tools that were not found
func (r *CheckResult) Missing() []Requirement {
	var missing []Requirement
	for _, req := range r.Requirements {
		if req.Required && !req.Installed {
			missing = append(missing, req)
		}
	}
	return missing
}

// SystemChecker checks system requirements
type SystemChecker struct {
	runner runner.Runner
}

// NewSystemChecker creates a new system checker
func NewSystemChecker(r runner.Runner) *SystemChecker {
	return &SystemChecker{runner: r}
}

// Requirements lists the tools needed to deploy an app of appType under
// manager
func Requirements(appType config.AppType, manager config.ManagerKind) []Requirement {
	var reqs []Requirement

	switch manager {
	case config.ManagerPM2:
		reqs = append(reqs, Requirement{
			Name:        "pm2",
			Command:     "pm2",
			Args:        []string{"--version"},
			Required:    true,
			InstallHint: "npm install -g pm2",
		})
	default:
		reqs = append(reqs, Requirement{
			Name:        "systemd",
			Command:     "systemctl",
			Args:        []string{"--version"},
			Required:    true,
			InstallHint: "a systemd-based distribution is required for manager: systemd",
		})
	}

	switch appType {
	case config.TypePython:
		reqs = append(reqs, Requirement{
			Name:        "Python",
			Command:     "python3",
			Args:        []string{"--version"},
			Required:    true,
			InstallHint: "sudo apt install python3 python3-venv",
		})
	case config.TypeNode:
		reqs = append(reqs,
			Requirement{Name: "Node.js", Command: "node", Args: []string{"--version"}, Required: true, InstallHint: "https://nodejs.org/en/download"},
			Requirement{Name: "npm", Command: "npm", Args: []string{"--version"}, Required: true, InstallHint: "npm ships with Node.js"},
		)
	case config.TypeDocker:
		reqs = append(reqs, Requirement{
			Name:        "Docker",
			Command:     "docker",
			Args:        []string{"--version"},
			Required:    true,
			InstallHint: "Install Docker: https://docs.docker.com/engine/install/",
		})
	case config.TypeStatic:
		reqs = append(reqs, Requirement{
			Name:        "Python",
			Command:     "python3",
			Args:        []string{"--version"},
			Required:    false,
			InstallHint: "the default static server is python3 -m http.server",
		})
	}

	reqs = append(reqs, Requirement{
		Name:        "curl",
		Command:     "curl",
		Args:        []string{"--version"},
		Required:    false,
		InstallHint: "useful for hooks and smoke-test scripts",
	})
	return reqs
}

// CheckAll probes every requirement
func (s *SystemChecker) CheckAll(ctx context.Context, requirements []Requirement) *CheckResult {
	result := &CheckResult{
		Requirements: make([]Requirement, 0, len(requirements)),
		AllRequired:  true,
		AllOptional:  true,
	}

	for _, req := range requirements {
		req.Installed, req.Version = s.checkRequirement(ctx, req)
		result.Requirements = append(result.Requirements, req)

		if req.Required && !req.Installed {
			result.AllRequired = false
		}
		if !req.Required && !req.Installed {
			result.AllOptional = false
		}
	}

	return result
}

func (s *SystemChecker) checkRequirement(ctx context.Context, req Requirement) (bool, string) {
	res, err := s.runner.Run(ctx, runner.Command{Name: req.Command, Args: req.Args, Timeout: 10 * time.Second})
	if err != nil {
		return false, ""
	}
	out := res.Stdout
	if strings.TrimSpace(out) == "" {
		out = res.Stderr
	}
	return true, extractVersion(out)
}

// extractVersion returns the first line of a --version output
func extractVersion(output string) string {
	line := strings.TrimSpace(strings.SplitN(output, "\n", 2)[0])
	if line == "" {
		return "unknown"
	}
	if len(line) > 60 {
		line = line[:60] + "..."
	}
	return line
}

// PrintResults prints the check results as a table followed by hints
func PrintResults(out *formatter.Output, result *CheckResult) {
	out.Subsection("System requirements")

	var rows [][]string
	for _, req := range result.Requirements {
		status := "missing"
		if req.Installed {
			status = "installed"
		}
		if !req.Required {
			status += " (optional)"
		}
		rows = append(rows, []string{req.Name, status, req.Version})
	}
	out.Table([]string{"REQUIREMENT", "STATUS", "VERSION"}, rows)

	if result.AllRequired {
		out.Success("All required tools are installed")
	} else {
		out.Warning("Some required tools are missing:")
		for _, req := range result.Missing() {
			out.Plain("  - %s: %s", req.Name, req.InstallHint)
		}
	}

	if !result.AllOptional {
		for _, req := range result.Requirements {
			if !req.Required && !req.Installed {
				out.Verbose("optional %s: %s", req.Name, req.InstallHint)
			}
		}
	}
}
