package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Call is one command observed by a Recorder
type Call struct {
	Command Command
}

// Line returns the recorded command line
func (c Call) Line() string {
	return c.Command.String()
}

// Responder decides the outcome of a recorded command
type Responder func(cmd Command) (*Result, error)

// Recorder implements Runner without spawning processes. Every command is
// recorded; commands whose line starts with a registered prefix get that
// prefix's response, anything else succeeds with empty output.
type Recorder struct {
	mu        sync.Mutex
	calls     []Call
	responses []prefixResponse
}

type prefixResponse struct {
	prefix  string
	respond Responder
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// On registers a responder for commands whose line starts with prefix.
// Later registrations take precedence.
func (r *Recorder) On(prefix string, respond Responder) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append([]prefixResponse{{prefix: prefix, respond: respond}}, r.responses...)
	return r
}

// Fail makes commands starting with prefix exit with the given status
func (r *Recorder) Fail(prefix string, exitCode int) *Recorder {
	return r.On(prefix, func(cmd Command) (*Result, error) {
		return &Result{ExitCode: exitCode, Stderr: "failed"}, fmt.Errorf("%s exited with status %d", cmd.Name, exitCode)
	})
}

// Run records cmd and returns the matching response
func (r *Recorder) Run(ctx context.Context, cmd Command) (*Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Command: cmd})
	responses := r.responses
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &Result{ExitCode: -1}, err
	}

	line := cmd.String()
	for _, pr := range responses {
		if strings.HasPrefix(line, pr.prefix) {
			return pr.respond(cmd)
		}
	}
	return &Result{}, nil
}

// Calls returns a copy of every recorded call
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Lines returns every recorded command line
func (r *Recorder) Lines() []string {
	var lines []string
	for _, c := range r.Calls() {
		lines = append(lines, c.Line())
	}
	return lines
}

// Count returns how many recorded lines start with prefix
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, l := range r.Lines() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}
