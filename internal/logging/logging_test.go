package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_JSONWithLevel(t *testing.T) {
	prev := log.Logger
	prevLvl := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLvl)
	})

	var buf bytes.Buffer
	Configure(&buf, "warn", false)

	log.Info().Msg("dropped")
	log.Warn().Str("prebooking_id", "p1").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "p1", line["prebooking_id"])
	assert.Equal(t, "box-scheduler", line["service"])
}

func TestConfigure_UnknownLevelFallsBackToInfo(t *testing.T) {
	prevLvl := zerolog.GlobalLevel()
	prev := log.Logger
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLvl)
	})

	var buf bytes.Buffer
	Configure(&buf, "chatty", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
