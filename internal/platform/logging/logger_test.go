package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/pscheid92/crowdpulse/internal/platform/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONCarriesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")

	ctx := correlation.WithID(context.Background(), "abcd1234")
	logger.InfoContext(ctx, "Stake placed", "pool_id", "p1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Stake placed", line["msg"])
	assert.Equal(t, "abcd1234", line["correlation_id"])
	assert.Equal(t, "p1", line["pool_id"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "text")

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_InstanceAttrsOnEveryLine(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "JSON").With(InstanceAttrs("crowdpulse", "1.0.0")...)

	logger.Info("Pool resolved")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "crowdpulse", line["service"])
	assert.Equal(t, "1.0.0", line["version"])
	assert.NotEmpty(t, line["instance"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" WARNING "))
	assert.Equal(t, slog.LevelError, parseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
