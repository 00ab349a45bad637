package secrets

import (
	"bytes"
	"io"
	"sync"
)

// Writer redacts whole lines before passing them to an underlying writer.
// A trailing partial line is held until its newline arrives or Flush is
// called, so a secret split across writes is still masked.
type Writer struct {
	mu       sync.Mutex
	redactor *Redactor
	out      io.Writer
	buf      bytes.Buffer
}

// NewWriter wraps out with redaction
func NewWriter(redactor *Redactor, out io.Writer) *Writer {
	return &Writer{redactor: redactor, out: out}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// No newline yet: keep the fragment for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if _, err := io.WriteString(w.out, w.redactor.Redact(line)); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Flush writes any buffered partial line
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	_, err := io.WriteString(w.out, w.redactor.Redact(w.buf.String()))
	w.buf.Reset()
	return err
}
