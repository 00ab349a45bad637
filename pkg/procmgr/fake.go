package procmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
)

// Call is one operation observed by Fake
type Call struct {
	Op         string
	Service    string
	BatchDelay time.Duration
	Unit       *Unit
}

// Fake records manager operations without touching a supervisor. Services
// listed in Running are considered up; Start and Stop maintain it.
type Fake struct {
	mu      sync.Mutex
	calls   []Call
	fail    map[string]bool
	Running map[string]bool
	// OnCall, when set, runs after an operation is recorded
	OnCall func(c Call)
}

// NewFake creates a Fake manager
func NewFake() *Fake {
	return &Fake{fail: make(map[string]bool), Running: make(map[string]bool)}
}

// Fail makes op fail. op is one of the Step constants.
func (f *Fake) Fail(op string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = true
	return f
}

// Calls returns a copy of the recorded operations
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many times op was invoked
func (f *Fake) Count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// IsRunning reports whether service was started and not stopped
func (f *Fake) IsRunning(service string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Running[service]
}

func (f *Fake) record(c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	failed := f.fail[c.Op]
	if !failed {
		switch c.Op {
		case StepStart:
			f.Running[c.Service] = true
		case StepStop:
			delete(f.Running, c.Service)
		}
	}
	hook := f.OnCall
	f.mu.Unlock()

	if hook != nil {
		hook(c)
	}
	if failed {
		return deployerr.New(deployerr.KindProcessManager, c.Op, fmt.Errorf("%s %s failed", c.Op, c.Service))
	}
	return nil
}

// Kind implements Manager
func (f *Fake) Kind() config.ManagerKind { return "fake" }

// Reload implements Manager
func (f *Fake) Reload(ctx context.Context, service string) error {
	return f.record(Call{Op: StepReload, Service: service})
}

// Restart implements Manager
func (f *Fake) Restart(ctx context.Context, service string) error {
	return f.record(Call{Op: StepRestart, Service: service})
}

// RollingRestart implements Manager
func (f *Fake) RollingRestart(ctx context.Context, service string, batchDelay time.Duration) error {
	return f.record(Call{Op: StepRolling, Service: service, BatchDelay: batchDelay})
}

// Start implements Manager
func (f *Fake) Start(ctx context.Context, unit Unit) error {
	u := unit
	return f.record(Call{Op: StepStart, Service: unit.Name, Unit: &u})
}

// Stop implements Manager
func (f *Fake) Stop(ctx context.Context, service string) error {
	return f.record(Call{Op: StepStop, Service: service})
}
