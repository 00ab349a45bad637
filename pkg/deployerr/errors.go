// Package deployerr defines the error taxonomy shared by every deployment step.
package deployerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a deployment failure
type Kind string

const (
	KindConfig         Kind = "ConfigError"
	KindSourceFetch    Kind = "SourceFetchError"
	KindDependency     Kind = "DependencyInstallError"
	KindHook           Kind = "HookError"
	KindProcessManager Kind = "ProcessManagerError"
	KindHealthCheck    Kind = "HealthCheckFailure"
	KindRollback       Kind = "RollbackError"
	KindLock           Kind = "LockError"
	KindStore          Kind = "StoreError"
	KindSmokeTest      Kind = "SmokeTestFailure"
)

// Sentinels for errors.Is matching against a Kind
var (
	ErrConfig         = &Error{Kind: KindConfig}
	ErrSourceFetch    = &Error{Kind: KindSourceFetch}
	ErrDependency     = &Error{Kind: KindDependency}
	ErrHook           = &Error{Kind: KindHook}
	ErrProcessManager = &Error{Kind: KindProcessManager}
	ErrHealthCheck    = &Error{Kind: KindHealthCheck}
	ErrRollback       = &Error{Kind: KindRollback}
	ErrLock           = &Error{Kind: KindLock}
	ErrStore          = &Error{Kind: KindStore}
	ErrSmokeTest      = &Error{Kind: KindSmokeTest}
)

// Error is a deployment error with enough context to act on it
// without re-running the deployment.
type Error struct {
	Kind    Kind
	Step    string // lifecycle step that failed
	App     string
	Release string
	Cause   error
	Details []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	head := string(e.Kind)
	var ctx []string
	if e.Step != "" {
		ctx = append(ctx, "step="+e.Step)
	}
	if e.App != "" {
		ctx = append(ctx, "app="+e.App)
	}
	if e.Release != "" {
		ctx = append(ctx, "release="+e.Release)
	}
	if len(ctx) > 0 {
		head = fmt.Sprintf("%s [%s]", head, strings.Join(ctx, " "))
	}
	parts = append(parts, head)

	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	if len(e.Details) > 0 {
		parts = append(parts, strings.Join(e.Details, "; "))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a new deployment error
func New(kind Kind, step string, cause error, details ...string) *Error {
	return &Error{
		Kind:    kind,
		Step:    step,
		Cause:   cause,
		Details: details,
	}
}

// Newf creates a deployment error with a formatted cause
func Newf(kind Kind, step, format string, args ...interface{}) *Error {
	return New(kind, step, fmt.Errorf(format, args...))
}

// WithContext returns a copy of err annotated with app and release when err
// is (or wraps) an *Error whose fields are still empty. Other errors are
// returned unchanged.
func WithContext(err error, app, release string) error {
	var de *Error
	if !errors.As(err, &de) {
		return err
	}
	cp := *de
	if cp.App == "" {
		cp.App = app
	}
	if cp.Release == "" {
		cp.Release = release
	}
	return &cp
}

// KindOf returns the Kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// StepOf returns the failing step recorded on err, if any.
func StepOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Step
	}
	return ""
}

// MultiError collects multiple errors
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var messages []string
	for i, err := range m.Errors {
		messages = append(messages, fmt.Sprintf("%d. %s", i+1, err.Error()))
	}
	return fmt.Sprintf("multiple errors occurred:\n%s", strings.Join(messages, "\n"))
}

// Add adds an error to the collection
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// HasErrors returns true if there are any errors
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// ErrorOrNil returns the error if there are any, otherwise nil
func (m *MultiError) ErrorOrNil() error {
	if m.HasErrors() {
		return m
	}
	return nil
}
