// Package notification delivers terminal deployment outcomes to Slack,
// Discord and generic webhooks. Delivery failures are logged and never
// change the outcome of a deployment.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redentordev/paradigm/pkg/config"
	"github.com/redentordev/paradigm/pkg/deployerr"
	"github.com/redentordev/paradigm/pkg/httputil"
	"github.com/redentordev/paradigm/pkg/resilience"
	"go.uber.org/zap"
)

// EventType represents the type of deployment event
type EventType string

const (
	EventDeploySucceeded EventType = "deploy_succeeded"
	EventDeployFailed    EventType = "deploy_failed"
	EventRollbackDone    EventType = "rollback_done"
	EventRollbackFailed  EventType = "rollback_failed"
)

// Event represents a notification event
type Event struct {
	Type        EventType     `json:"type"`
	App         string        `json:"app"`
	Environment string        `json:"environment"`
	Strategy    string        `json:"strategy,omitempty"`
	Ref         string        `json:"ref,omitempty"`
	Release     string        `json:"release,omitempty"`
	Message     string        `json:"message"`
	Step        string        `json:"step,omitempty"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Title returns a human-readable title for the event
func (e Event) Title() string {
	switch e.Type {
	case EventDeploySucceeded:
		return "Deployment Succeeded"
	case EventDeployFailed:
		return "Deployment Failed"
	case EventRollbackDone:
		return "Deployment Rolled Back"
	case EventRollbackFailed:
		return "Rollback Failed"
	default:
		return "Deployment Notification"
	}
}

func (e Event) emoji() string {
	switch e.Type {
	case EventDeploySucceeded:
		return "✅"
	case EventDeployFailed:
		return "❌"
	case EventRollbackDone:
		return "↩️"
	case EventRollbackFailed:
		return "🚨"
	default:
		return "📢"
	}
}

// color returns the RGB color of the event
func (e Event) color() int {
	switch e.Type {
	case EventDeploySucceeded:
		return 0x36a64f // Green
	case EventRollbackDone:
		return 0xffc107 // Yellow
	default:
		return 0xdc3545 // Red
	}
}

// Notifier handles sending notifications
type Notifier struct {
	config     config.NotificationsConfig
	client     *http.Client
	logger     *zap.Logger
	breakers   map[string]*resilience.ServiceBreaker
	retries    uint64
	retryDelay time.Duration
}

// NewNotifier creates a notifier for the configured channels
func NewNotifier(cfg config.NotificationsConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		config:     cfg,
		client:     httputil.NewClient(10 * time.Second),
		logger:     logger,
		breakers:   make(map[string]*resilience.ServiceBreaker),
		retries:    2,
		retryDelay: 500 * time.Millisecond,
	}
	for _, ch := range n.channels() {
		n.breakers[ch.name] = resilience.NewServiceBreaker("notify-"+ch.name,
			resilience.WithOnStateChange(func(name, from, to string) {
				logger.Warn("notification circuit changed state",
					zap.String("breaker", name), zap.String("from", from), zap.String("to", to))
			}))
	}
	return n
}

type channel struct {
	name    string
	url     string
	payload func(Event) interface{}
}

func (n *Notifier) channels() []channel {
	var out []channel
	if n.config.Slack != "" {
		out = append(out, channel{"slack", n.config.Slack, slackPayload})
	}
	if n.config.Discord != "" {
		out = append(out, channel{"discord", n.config.Discord, discordPayload})
	}
	if n.config.Webhook != "" {
		out = append(out, channel{"webhook", n.config.Webhook, func(e Event) interface{} { return e }})
	}
	return out
}

// Notify sends event to every configured channel. Each channel is retried
// independently; the returned error aggregates the channels that failed.
func (n *Notifier) Notify(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	errs := &deployerr.MultiError{}
	for _, ch := range n.channels() {
		ch := ch
		breaker := n.breakers[ch.name]
		if breaker.IsOpen() {
			n.logger.Warn("notification skipped, circuit open",
				zap.String("channel", ch.name),
				zap.String("event", string(event.Type)))
			errs.Add(fmt.Errorf("%s: %w", ch.name, resilience.ErrCircuitOpen))
			continue
		}
		err := resilience.RetryWithBackoff(ctx, func() error {
			return breaker.Execute(func() error {
				return n.postJSON(ctx, ch.url, ch.payload(event))
			})
		},
			resilience.WithMaxRetries(n.retries),
			resilience.WithInitialDelay(n.retryDelay),
			resilience.WithMaxElapsed(30*time.Second),
			resilience.WithRetryClassifier(retryable),
		)
		if err != nil {
			n.logger.Warn("notification failed",
				zap.String("channel", ch.name),
				zap.String("event", string(event.Type)),
				zap.NamedError("err", err))
			errs.Add(fmt.Errorf("%s: %w", ch.name, err))
			continue
		}
		n.logger.Debug("notification sent", zap.String("channel", ch.name), zap.String("event", string(event.Type)))
	}
	return errs.ErrorOrNil()
}

// statusError is a non-2xx webhook response
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.code)
}

// retryable treats client errors as permanent, except rate limiting
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests {
		return false
	}
	return resilience.DefaultRetryClassifier(err)
}

// postJSON sends a JSON payload to a URL
func (n *Notifier) postJSON(ctx context.Context, url string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}
