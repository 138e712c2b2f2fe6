// ABOUTME: Tests for the shared slog setup
// ABOUTME: Checks level parsing and both output formats

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fieldnet-gateway/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.With("component", "router").Info("message delivered", "to", "agent_1")
	logger.Debug("hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "message delivered", rec["msg"])
	assert.Equal(t, "router", rec["component"])
	assert.Equal(t, "agent_1", rec["to"])
}

func TestNew_Text(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "debug"}, &buf)
	logger.With("component", "field").WithGroup("snap").Warn("field recorded", "coherence", 0.5)

	out := buf.String()
	assert.Contains(t, out, "WRN field recorded")
	assert.Contains(t, out, "component=field")
	assert.Contains(t, out, "snap.coherence=0.5")
}
