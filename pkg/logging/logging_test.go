package logging

import (
	"testing"

	"atomicgo.dev/keyboard/keys"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestHandleShortcutLevels(t *testing.T) {
	original := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(original)

	tests := []struct {
		key  string
		want zerolog.Level
	}{
		{"t", zerolog.TraceLevel},
		{"d", zerolog.DebugLevel},
		{"w", zerolog.WarnLevel},
		{"e", zerolog.ErrorLevel},
		{"i", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			stop := HandleShortcut(keys.Key{Code: keys.RuneKey, Runes: []rune(tt.key)})
			assert.False(t, stop)
			assert.Equal(t, tt.want, zerolog.GlobalLevel())
		})
	}
}

func TestHandleShortcutStops(t *testing.T) {
	assert.True(t, HandleShortcut(keys.Key{Code: keys.CtrlC}))
	assert.True(t, HandleShortcut(keys.Key{Code: keys.Escape}))
}

func TestStatusHook(t *testing.T) {
	defer RegisterStatusHook(nil)

	called := false
	RegisterStatusHook(func() *zerolog.Event {
		called = true
		return log.Info().Int("files", 3)
	})

	HandleShortcut(keys.Key{Code: keys.RuneKey, Runes: []rune("s")})
	assert.True(t, called)
}

func TestInterruptHook(t *testing.T) {
	defer RegisterInterruptHook(nil)

	calls := 0
	RegisterInterruptHook(func() { calls++ })

	assert.True(t, HandleShortcut(keys.Key{Code: keys.Escape}))
	assert.Equal(t, 0, calls)
	assert.True(t, HandleShortcut(keys.Key{Code: keys.CtrlC}))
	assert.Equal(t, 1, calls)
}
