// Package secrets masks environment values and credential-shaped strings
// in command output before it reaches the transcript or the log.
package secrets

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

const (
	placeholder = "[REDACTED]"

	// values shorter than this are too likely to collide with ordinary output
	minSecretLen = 4
)

// rule is a credential shape. When keep is set, the first submatch is
// preserved and only the remainder of the match is masked.
type rule struct {
	re   *regexp.Regexp
	keep bool
}

var rules = []rule{
	{re: regexp.MustCompile(`(?i)((?:password|passwd|pwd|pass|secret|token|key|apikey|api_key|api-key|auth|authorization|bearer|credential)[\s=:]+)[^\s]+`), keep: true},
	{re: regexp.MustCompile(`(?i)((?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://[^:/\s]+:)[^@\s]+`), keep: true},

	{re: regexp.MustCompile(`\b(?:sk|pk)_live_[A-Za-z0-9]+`)},
	{re: regexp.MustCompile(`\bgh[ps]_[A-Za-z0-9]{36}`)},
	{re: regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]+`)},
	{re: regexp.MustCompile(`\bnpm_[A-Za-z0-9]{36}`)},
	{re: regexp.MustCompile(`\bdop_[A-Za-z0-9]{32}`)},
	{re: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{re: regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}`)},
	{re: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
}

// Redactor masks registered values and known credential shapes.
// It is safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	values   map[string]struct{}
	replacer *strings.Replacer
}

// NewRedactor returns a Redactor with no registered values
func NewRedactor() *Redactor {
	return &Redactor{values: make(map[string]struct{})}
}

// Register marks value for redaction
func (r *Redactor) Register(value string) {
	if len(value) < minSecretLen {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.values[value]; ok {
		return
	}
	r.values[value] = struct{}{}
	r.replacer = nil
}

// RegisterEnv registers every value of an environment file
func (r *Redactor) RegisterEnv(vars map[string]string) {
	for _, v := range vars {
		r.Register(v)
	}
}

// Redact returns s with registered values masked, then credential shapes
// replaced by a placeholder.
func (r *Redactor) Redact(s string) string {
	if rep := r.currentReplacer(); rep != nil {
		s = rep.Replace(s)
	}
	for _, ru := range rules {
		if ru.keep {
			s = ru.re.ReplaceAllString(s, "${1}"+placeholder)
		} else {
			s = ru.re.ReplaceAllLiteralString(s, placeholder)
		}
	}
	return s
}

// currentReplacer builds the value replacer on first use after a Register.
// Longer values come first so a secret containing another is masked whole.
func (r *Redactor) currentReplacer() *strings.Replacer {
	r.mu.RLock()
	rep := r.replacer
	n := len(r.values)
	r.mu.RUnlock()
	if rep != nil || n == 0 {
		return rep
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replacer != nil {
		return r.replacer
	}
	vals := make([]string, 0, len(r.values))
	for v := range r.values {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool {
		if len(vals[i]) != len(vals[j]) {
			return len(vals[i]) > len(vals[j])
		}
		return vals[i] < vals[j]
	})
	pairs := make([]string, 0, 2*len(vals))
	for _, v := range vals {
		pairs = append(pairs, v, mask(v))
	}
	r.replacer = strings.NewReplacer(pairs...)
	return r.replacer
}

// mask keeps enough of a value to tell two secrets apart in a transcript
func mask(v string) string {
	switch n := len(v); {
	case n <= 4:
		return placeholder
	case n <= 8:
		return v[:1] + "***"
	default:
		return v[:2] + "***" + v[n-2:]
	}
}
