package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/logging"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("debug", "json", &buf)

	logger.Debug("invoice generation completed", "generated", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "invoice generation completed", line["msg"])
	assert.Equal(t, float64(3), line["generated"])
}

func TestNew_TextFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("warn", "text", &buf)

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown", "job", "apply-surcharges")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "apply-surcharges")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel(""))
}
