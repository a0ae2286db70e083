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

func captureHits(t *testing.T) *bytes.Buffer {
	t.Helper()
	originalLogger := log.Logger
	t.Cleanup(func() {
		log.Logger = originalLogger
		SetGlobalHitWriter(nil)
	})

	var buf bytes.Buffer
	w := NewHitLevelWriter(&buf)
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	SetGlobalHitWriter(w)
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var last []byte
	for _, line := range bytes.Split(buf.Bytes(), []byte("\n")) {
		if len(line) > 0 {
			last = line
		}
	}
	require.NotEmpty(t, last, "no log line captured")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(last, &entry))
	return entry
}

func TestHit(t *testing.T) {
	buf := captureHits(t)

	Hit().
		Str("kind", string(HitKindMatch)).
		Str("entity", "ssn").
		Str("value", "21*******99").
		Float64("confidence", 0.85).
		Strs("sources", []string{"pattern", "recognizer"}).
		Msg("MATCH")

	entry := lastEntry(t, buf)
	assert.Equal(t, "hit", entry["level"])
	assert.Equal(t, "ssn", entry["entity"])
	assert.Equal(t, "21*******99", entry["value"])
	assert.Equal(t, 0.85, entry["confidence"])
	assert.Equal(t, "MATCH", entry["message"])
	_, marker := entry["_hit"]
	assert.False(t, marker, "internal _hit marker must be removed")
}

func TestHitIgnoresGlobalLevel(t *testing.T) {
	buf := captureHits(t)
	original := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(original)
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)

	log.Info().Msg("suppressed")
	Hit().Str("entity", "email").Int("line", 3).Bool("testData", false).Msg("MATCH")

	entry := lastEntry(t, buf)
	assert.Equal(t, "hit", entry["level"])
	assert.NotContains(t, buf.String(), "suppressed")
}

func TestPlainEventsKeepTheirLevel(t *testing.T) {
	buf := captureHits(t)

	log.Warn().Str("file", "a.txt").Msg("Extraction failed")

	entry := lastEntry(t, buf)
	assert.Equal(t, "warn", entry["level"])
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("hit")
	require.NoError(t, err)
	assert.Equal(t, HitLevel, lvl)

	lvl, err = ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
