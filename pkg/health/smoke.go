package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/runner"
)

// StepSmokeTests is reported on smoke test failures
const StepSmokeTests = "smoke-tests"

// SmokeRunner runs pre-switch functional checks against a slot
type SmokeRunner struct {
	Prober  Prober
	Runner  runner.Runner
	BaseDir string        // scripts resolve relative to this directory
	Timeout time.Duration // per script
	Probe   time.Duration // per HTTP check
	// OnPass, when set, observes each passing check
	OnPass func(test config.SmokeTest)
}

// Run executes tests in order against the service on port. The first
// failure stops the run and is returned as a SmokeTestFailure naming the
// check.
func (s *SmokeRunner) Run(ctx context.Context, port int, tests []config.SmokeTest) error {
	for i, test := range tests {
		var err error
		if test.Script != "" {
			err = s.runScript(ctx, port, test)
		} else {
			err = s.runHTTP(ctx, port, test)
		}
		if err != nil {
			return deployerr.New(deployerr.KindSmokeTest, StepSmokeTests,
				fmt.Errorf("smoke test %d (%s) failed: %w", i+1, test.Label(), err))
		}
		if s.OnPass != nil {
			s.OnPass(test)
		}
	}
	return nil
}

func (s *SmokeRunner) runHTTP(ctx context.Context, port int, test config.SmokeTest) error {
	if s.Probe > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Probe)
		defer cancel()
	}

	url := URL(port, test.Endpoint)
	resp, err := s.Prober.Probe(ctx, Request{Method: test.Method, URL: url})
	if err != nil {
		return err
	}

	expected := test.ExpectedStatus
	if expected == 0 {
		expected = 200
	}
	if resp.StatusCode != expected {
		return fmt.Errorf("%s returned %d, expected %d", url, resp.StatusCode, expected)
	}

	if test.ExpectedBody != "" && !strings.Contains(resp.Body, test.ExpectedBody) {
		return fmt.Errorf("%s response body does not contain %q", url, test.ExpectedBody)
	}
	return nil
}

func (s *SmokeRunner) runScript(ctx context.Context, port int, test config.SmokeTest) error {
	path := test.Script
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.BaseDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("script %s not found", path)
	}

	res, err := s.Runner.Run(ctx, runner.Command{
		Name:    path,
		Dir:     s.BaseDir,
		Timeout: s.Timeout,
		Env: map[string]string{
			"PORT":     strconv.Itoa(port),
			"BASE_URL": fmt.Sprintf("http://127.0.0.1:%d", port),
		},
	})
	if err != nil {
		if out := res.Output(); out != "" {
			return fmt.Errorf("%w: %s", err, out)
		}
		return err
	}
	return nil
}
