package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledByDefault(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("PARADIGM_TRACE_DEBUG", "")

	require.NoError(t, Init(DefaultConfig()))
	assert.False(t, IsEnabled())

	ctx, span := TraceDeploy(context.Background(), "svc", "simple", "abc123")
	assert.NotNil(t, ctx)
	SetAttribute(ctx, "deploy.release", "1700000000")
	End(span, errors.New("health check failed"))

	assert.NoError(t, Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("PARADIGM_SERVICE_NAME", "")
	t.Setenv("PARADIGM_TRACE_DEBUG", "1")

	cfg := DefaultConfig()
	assert.Equal(t, "paradigm", cfg.ServiceName)
	assert.True(t, cfg.Debug)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
