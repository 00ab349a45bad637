// Package health validates a started release over HTTP. Each endpoint is
// retried sequentially; several endpoints are probed concurrently and all
// of them must pass.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/resilience"
	"golang.org/x/sync/errgroup"
)

// StepHealthCheck is reported on health check failures
const StepHealthCheck = "health-check"

// Policy bounds the retry loop for one endpoint
type Policy struct {
	Attempts int
	Delay    time.Duration // pause between attempts
	Timeout  time.Duration // per attempt
}

var (
	// SimplePolicy is used after a symlink swap or rolling restart
	SimplePolicy = Policy{Attempts: 3, Delay: 5 * time.Second, Timeout: 10 * time.Second}

	// BlueGreenPolicy is used against the inactive slot before switching
	BlueGreenPolicy = Policy{Attempts: 5, Delay: 2 * time.Second, Timeout: 10 * time.Second}
)

// Attempt records one probe
type Attempt struct {
	URL        string
	Number     int
	Success    bool
	StatusCode int
	Err        string
	Latency    time.Duration
}

// Result aggregates the attempts against one endpoint
type Result struct {
	URL      string
	Healthy  bool
	Attempts []Attempt
}

// LastFailure describes the final failed attempt
func (r Result) LastFailure() string {
	if len(r.Attempts) == 0 {
		return "no attempts made"
	}
	last := r.Attempts[len(r.Attempts)-1]
	if last.Err != "" {
		return last.Err
	}
	return fmt.Sprintf("status %d", last.StatusCode)
}

// Err returns a HealthCheckFailure for an unhealthy result, nil otherwise
func (r Result) Err() error {
	if r.Healthy {
		return nil
	}
	return deployerr.Newf(deployerr.KindHealthCheck, StepHealthCheck,
		"%s failed after %d attempts: %s", r.URL, len(r.Attempts), r.LastFailure())
}

// Checker probes health endpoints
type Checker struct {
	prober Prober
	// OnAttempt, when set, observes every probe as it completes
	OnAttempt func(Attempt)
}

// NewChecker creates a checker using prober
func NewChecker(prober Prober) *Checker {
	return &Checker{prober: prober}
}

// Check GETs url until it answers 200 or policy.Attempts probes have
// failed. Non-200 statuses and transport errors are failed attempts.
func (c *Checker) Check(ctx context.Context, url string, policy Policy) Result {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	result := Result{URL: url}
	var mu sync.Mutex

	probe := func() error {
		attemptCtx := ctx
		if policy.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
			defer cancel()
		}

		start := time.Now()
		resp, err := c.prober.Probe(attemptCtx, Request{Method: "GET", URL: url})

		mu.Lock()
		a := Attempt{URL: url, Number: len(result.Attempts) + 1, Latency: time.Since(start)}
		switch {
		case err != nil:
			a.Err = err.Error()
		case resp.StatusCode != 200:
			a.StatusCode = resp.StatusCode
			err = fmt.Errorf("status %d", resp.StatusCode)
		default:
			a.StatusCode = resp.StatusCode
			a.Success = true
		}
		result.Attempts = append(result.Attempts, a)
		mu.Unlock()

		if c.OnAttempt != nil {
			c.OnAttempt(a)
		}
		return err
	}

	err := resilience.RetryWithBackoff(ctx, probe,
		resilience.WithConstantDelay(policy.Delay),
		resilience.WithMaxRetries(uint64(policy.Attempts-1)),
		resilience.WithRetryClassifier(resilience.RetryAll),
	)
	result.Healthy = err == nil
	return result
}

// CheckAll checks every url concurrently, one worker per endpoint. Each
// endpoint runs its full retry loop; the overall check passes only when
// all endpoints are healthy. Results keep the order of urls.
func (c *Checker) CheckAll(ctx context.Context, urls []string, policy Policy) ([]Result, error) {
	results := make([]Result, len(urls))
	if len(urls) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(urls))
	for i, url := range urls {
		g.Go(func() error {
			// Use gctx only for cancellation from the parent; endpoints
			// never abandon each other early.
			results[i] = c.Check(gctx, url, policy)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for _, r := range results {
		if !r.Healthy {
			failed = append(failed, fmt.Sprintf("%s (%s)", r.URL, r.LastFailure()))
		}
	}
	if len(failed) > 0 {
		return results, deployerr.Newf(deployerr.KindHealthCheck, StepHealthCheck,
			"%d of %d endpoints unhealthy: %s", len(failed), len(urls), strings.Join(failed, ", "))
	}
	return results, nil
}

// URL builds a local health URL for port and path
func URL(port int, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}
