package secrets

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactor_RegisteredValues(t *testing.T) {
	r := NewRedactor()
	r.RegisterEnv(map[string]string{"DATABASE_PASSWORD": "hunter2hunter2", "SHORT": "abc"})

	out := r.Redact("connecting with hunter2hunter2 as abc")
	assert.NotContains(t, out, "hunter2hunter2")
	assert.Contains(t, out, "hu***r2")
	assert.Contains(t, out, "abc", "values under the minimum length are kept")
}

func TestRedactor_Patterns(t *testing.T) {
	r := NewRedactor()

	assert.Equal(t, "API_KEY=[REDACTED]", r.Redact("API_KEY=abcdef123"))
	assert.Equal(t, "postgres://app:[REDACTED]@db:5432/app", r.Redact("postgres://app:s3cret@db:5432/app"))

	hash := "9fceb02d0ae598e95dc970b74767f19372d61af8"
	assert.Equal(t, "deployed "+hash, r.Redact("deployed "+hash), "commit hashes survive")
}

func TestRedactor_LongestValueWins(t *testing.T) {
	r := NewRedactor()
	r.Register("tokenvalue")
	r.Register("tokenvalue-extended")

	out := r.Redact("a=tokenvalue-extended b=tokenvalue")
	assert.Equal(t, "a=to***ed b=to***ue", out)
}

func TestRedactor_RegisterAfterRedact(t *testing.T) {
	r := NewRedactor()
	assert.Equal(t, "plain output", r.Redact("plain output"))

	r.Register("output")
	assert.Equal(t, "plain o***", r.Redact("plain output"))
}

func TestWriter_BuffersPartialLines(t *testing.T) {
	r := NewRedactor()
	r.Register("supersecretvalue")

	var buf bytes.Buffer
	w := NewWriter(r, &buf)

	_, err := w.Write([]byte("using supers"))
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	_, err = w.Write([]byte("ecretvalue now\nnext"))
	require.NoError(t, err)
	assert.Equal(t, "using su***ue now\n", buf.String())

	require.NoError(t, w.Flush())
	assert.Equal(t, "using su***ue now\nnext", buf.String())
}
