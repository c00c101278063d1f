package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "debug", Writer: &buf})
	logger.Info().Str("request_id", "req-1").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["message"])
	require.Equal(t, "req-1", line["request_id"])
	require.Equal(t, "folio", line["service"])
	require.Contains(t, line, "time")
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Writer: &buf})
	logger.Info().Msg("dropped")
	require.Equal(t, 0, buf.Len())

	logger.Warn().Msg("kept")
	require.NotZero(t, buf.Len())
}

func TestNewUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "chatty", Writer: &buf})
	logger.Debug().Msg("dropped")
	require.Equal(t, 0, buf.Len())
}
