package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
		ok   bool
	}{
		{"trace", zerolog.TraceLevel, true},
		{" DEBUG ", zerolog.DebugLevel, true},
		{"warning", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseLevel(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "trace")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogTimestamp, "not-a-bool")

	opts := DefaultOptions(ProfileRuntime)
	ApplyEnv(&opts)

	assert.Equal(t, zerolog.TraceLevel, opts.Level)
	assert.Equal(t, FormatJSON, opts.Format)
	assert.True(t, opts.NoColor)
	assert.True(t, opts.Timestamp)
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: zerolog.InfoLevel, Format: FormatJSON, Output: &buf})

	logger.Debug().Msg("hidden")
	logger.Info().Str("component", "ledger").Msg("block finished")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "block finished", entry["message"])
	assert.Equal(t, "ledger", entry["component"])
	assert.NotContains(t, entry, "time")
}

func TestDefaultProfiles(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, DefaultOptions(ProfileTest).Level)
	assert.False(t, DefaultOptions(ProfileTest).Timestamp)
	assert.Equal(t, zerolog.InfoLevel, DefaultOptions(ProfileRuntime).Level)
}
