package logging

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesJSONLines(t *testing.T) {
	base := t.TempDir()

	logger, closeFn, err := New(base, false)
	require.NoError(t, err)

	ForApp(logger, "svc", "abc").Error("health check failed",
		zap.String("release", "1700000000"),
		zap.NamedError("err", errors.New("status 503")))
	require.NoError(t, closeFn())

	data, err := os.ReadFile(Path(base))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "health check failed", entry["msg"])
	assert.Equal(t, "svc", entry["app"])
	assert.Equal(t, "1700000000", entry["release"])
	assert.Equal(t, "status 503", entry["err"])
}

func TestNew_Appends(t *testing.T) {
	base := t.TempDir()
	for i := 0; i < 2; i++ {
		logger, closeFn, err := New(base, false)
		require.NoError(t, err)
		logger.Info("attempt")
		require.NoError(t, closeFn())
	}

	data, err := os.ReadFile(Path(base))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}
