package telemetry

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelAndServiceField(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "api", "warn")

	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	log.Warn().Str("order_number", "ORD-12345678-123").Msg("override")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "api", line["service"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "ORD-12345678-123", line["order_number"])
}

func TestLoggerUnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "api", "loud")
	log.Debug().Msg("dropped")
	log.Info().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
	assert.NotContains(t, buf.String(), "dropped")
}
