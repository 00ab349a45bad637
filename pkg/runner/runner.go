// Package runner executes external commands (git, installers, hooks, process
// managers, smoke-test scripts) as opaque subprocesses with an enforced timeout.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/redentordev/paradigm/pkg/telemetry"
)

// DefaultTimeout applies when a Command carries no timeout of its own
const DefaultTimeout = 5 * time.Minute

// waitDelay bounds how long Run waits for output pipes after the process exits
const waitDelay = 5 * time.Second

// ErrTimeout is returned when a command exceeds its maximum duration
var ErrTimeout = errors.New("command timed out")

// Command describes one subprocess invocation
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     map[string]string // appended to the current environment
	Timeout time.Duration
}

// Shell builds a Command that runs line through sh -c
func Shell(line, dir string) Command {
	return Command{Name: "sh", Args: []string{"-c", line}, Dir: dir}
}

// String renders the command line for transcripts
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the observable outcome of a command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns stderr when present, otherwise stdout
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// Runner runs commands. Only exit code, output and duration are observed.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	// Stream, when set, receives a copy of stdout and stderr as it is produced
	Stream io.Writer
}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner(stream io.Writer) *ExecRunner {
	return &ExecRunner{Stream: stream}
}

// Run executes cmd and waits for it, killing it once its timeout elapses.
// A non-zero exit is returned as an error alongside the Result.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	ctx, span := telemetry.TraceCommand(ctx, cmd.String())
	res, err := r.run(ctx, cmd)
	telemetry.End(span, err)
	return res, err
}

func (r *ExecRunner) run(ctx context.Context, cmd Command) (*Result, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	// Orphaned grandchildren can hold the output pipes open after the kill.
	c.WaitDelay = waitDelay
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		c.Env = os.Environ()
		for k, v := range cmd.Env {
			c.Env = append(c.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	if r.Stream != nil {
		c.Stdout = io.MultiWriter(&stdout, r.Stream)
		c.Stderr = io.MultiWriter(&stderr, r.Stream)
	} else {
		c.Stdout = &stdout
		c.Stderr = &stderr
	}

	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		return result, fmt.Errorf("%s: %w after %s", cmd.Name, ErrTimeout, timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, fmt.Errorf("%s exited with status %d", cmd.Name, result.ExitCode)
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("%s: %w", cmd.Name, err)
	}

	return result, nil
}
