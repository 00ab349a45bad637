// Package formatter renders the human-readable deployment transcript.
package formatter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
	ColorWhite  = "\033[97m"

	ColorBold      = "\033[1m"
	ColorDim       = "\033[2m"
	ColorUnderline = "\033[4m"
)

// Icons for different message types
const (
	IconSuccess  = "✓"
	IconError    = "✗"
	IconWarning  = "⚠️"
	IconInfo     = "→"
	IconRocket   = "🚀"
	IconRollback = "↩"
)

// Output provides formatted output methods. It is safe for concurrent use.
type Output struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
	noColor bool
	// Filter, when set, rewrites every line before it is written
	Filter func(string) string
}

// New creates a new Output formatter writing to stdout
func New(verbose, noColor bool) *Output {
	return NewWriter(os.Stdout, verbose, noColor)
}

// NewWriter creates an Output formatter writing to w
func NewWriter(w io.Writer, verbose, noColor bool) *Output {
	return &Output{
		w:       w,
		verbose: verbose,
		noColor: noColor,
	}
}

// Discard returns an Output that writes nothing
func Discard() *Output {
	return NewWriter(io.Discard, false, true)
}

// IsVerbose reports whether verbose output is enabled
func (o *Output) IsVerbose() bool {
	return o.verbose
}

func (o *Output) printf(format string, args ...interface{}) {
	text := fmt.Sprintf(format, args...)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Filter != nil {
		text = o.Filter(text)
	}
	fmt.Fprint(o.w, text)
}

// color applies color to text if colors are enabled
func (o *Output) color(color, text string) string {
	if o.noColor {
		return text
	}
	return color + text + ColorReset
}

// Success prints a success message
func (o *Output) Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.printf("%s %s\n", o.color(ColorGreen, IconSuccess), msg)
}

// Error prints an error message
func (o *Output) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.printf("%s %s\n", o.color(ColorRed, IconError), msg)
}

// Warning prints a warning message
func (o *Output) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.printf("%s %s\n", o.color(ColorYellow, IconWarning), msg)
}

// Info prints an info message
func (o *Output) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.printf("%s %s\n", o.color(ColorBlue, IconInfo), msg)
}

// Verbose prints a message only if verbose mode is enabled
func (o *Output) Verbose(format string, args ...interface{}) {
	if o.verbose {
		msg := fmt.Sprintf(format, args...)
		o.printf("  %s\n", o.color(ColorDim, msg))
	}
}

// State prints a strategy state transition
func (o *Output) State(strategy, state string) {
	o.printf("%s %s\n", o.color(ColorPurple, "["+strategy+"]"), o.color(ColorBold, state))
}

// Section prints a section header
func (o *Output) Section(title string) {
	o.printf("\n%s\n\n", o.color(ColorBold, "=== "+title+" ==="))
}

// Subsection prints a subsection header
func (o *Output) Subsection(title string) {
	o.printf("\n%s\n", o.color(ColorCyan, title+":"))
}

// Step prints a step message
func (o *Output) Step(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.printf("%s %s\n", o.color(ColorCyan, IconInfo), msg)
}

// Plain prints plain text without formatting
func (o *Output) Plain(format string, args ...interface{}) {
	o.printf(format+"\n", args...)
}

// Table prints a simple table
func (o *Output) Table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}

	// Calculate column widths
	colWidths := make([]int, len(headers))
	for i, header := range headers {
		colWidths[i] = len(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(colWidths) && len(cell) > colWidths[i] {
				colWidths[i] = len(cell)
			}
		}
	}

	// Print header
	headerStr := ""
	for i, header := range headers {
		headerStr += fmt.Sprintf("%-*s  ", colWidths[i], header)
	}
	o.printf("%s\n", o.color(ColorBold, headerStr))

	// Print separator
	separator := strings.Repeat("─", len(headerStr))
	o.printf("%s\n", separator)

	// Print rows
	for _, row := range rows {
		rowStr := ""
		for i, cell := range row {
			if i < len(colWidths) {
				rowStr += fmt.Sprintf("%-*s  ", colWidths[i], cell)
			}
		}
		o.printf("%s\n", strings.TrimRight(rowStr, " "))
	}
}

// KeyValue prints a key-value pair
func (o *Output) KeyValue(key, value string) {
	o.printf("  %s: %s\n", o.color(ColorBold, key), value)
}

// List prints a bulleted list
func (o *Output) List(items ...string) {
	for _, item := range items {
		o.printf("  • %s\n", item)
	}
}

// NumberedList prints a numbered list
func (o *Output) NumberedList(items ...string) {
	for i, item := range items {
		o.printf("  %d. %s\n", i+1, item)
	}
}

// Divider prints a visual divider
func (o *Output) Divider() {
	o.printf("%s\n", strings.Repeat("─", 60))
}

// EmptyLine prints an empty line
func (o *Output) EmptyLine() {
	o.printf("\n")
}
