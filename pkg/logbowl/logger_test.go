package logbowl

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmojiFormatIsDefault(t *testing.T) {
	var buf bytes.Buffer
	log := CreateWithOptions("test", Options{Level: "info", Format: FormatEmoji, Output: &buf})

	log.Info("optimize", "delete", "success", "Removed path", "path", "site-packages/tests")

	out := buf.String()
	assert.Contains(t, out, "🧹 🗑️ ✅ Removed path")
	assert.Contains(t, out, "path=site-packages/tests")
}

func TestTextFormatUsesDomainPrefix(t *testing.T) {
	var buf bytes.Buffer
	log := CreateWithOptions("test", Options{Level: "debug", Format: FormatText, Output: &buf})

	log.Debug("freeze", "compile", "progress", "Compiling sources")

	assert.Contains(t, buf.String(), "[FREEZE] Compiling sources")
}

func TestJSONFormatCarriesDomainFields(t *testing.T) {
	var buf bytes.Buffer
	log := CreateWithOptions("test", Options{Level: "info", Format: FormatJSON, Output: &buf})

	log.Warn("prune", "plan", "skip", "Skipping pruning")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "prune", entry["domain"])
	assert.Equal(t, "plan", entry["action"])
	assert.Equal(t, "skip", entry["status"])
	assert.Equal(t, "Skipping pruning", entry["@message"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := CreateWithOptions("test", Options{Level: "info", Format: FormatText, Output: &buf})

	log.Debug("core", "process", "debug", "hidden")

	assert.Empty(t, buf.String())
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	assert.NotPanics(t, func() { log.Info("core", "process", "info", "nothing") })
	assert.NotNil(t, log.OrNull().Logger)
}
