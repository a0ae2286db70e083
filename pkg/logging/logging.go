// Package logging holds the zerolog helpers shared by the docleek commands:
// the hit level used for findings and the runtime log level shortcuts.
package logging

import (
	"sync"

	"atomicgo.dev/keyboard"
	"atomicgo.dev/keyboard/keys"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ShortcutStatusFN func() *zerolog.Event

var (
	statusHookMutex sync.RWMutex
	statusHook      ShortcutStatusFN
	interruptHook   func()
)

// RegisterStatusHook allows commands to register a custom status function
func RegisterStatusHook(hook ShortcutStatusFN) {
	statusHookMutex.Lock()
	defer statusHookMutex.Unlock()
	statusHook = hook
}

// GetStatusHook returns the registered status hook or a default one
func GetStatusHook() ShortcutStatusFN {
	statusHookMutex.RLock()
	defer statusHookMutex.RUnlock()
	if statusHook != nil {
		return statusHook
	}
	return defaultStatusHook
}

// RegisterInterruptHook sets the function run when Ctrl+C is pressed while
// the listener holds the terminal in raw mode, where no SIGINT is delivered.
func RegisterInterruptHook(hook func()) {
	statusHookMutex.Lock()
	defer statusHookMutex.Unlock()
	interruptHook = hook
}

func interrupt() {
	statusHookMutex.RLock()
	hook := interruptHook
	statusHookMutex.RUnlock()
	if hook != nil {
		hook()
	}
}

func defaultStatusHook() *zerolog.Event {
	return log.Info().Str("status", "nothing to show")
}

// levelKeys maps a pressed rune to the log level it selects.
var levelKeys = map[string]zerolog.Level{
	"t": zerolog.TraceLevel,
	"d": zerolog.DebugLevel,
	"i": zerolog.InfoLevel,
	"w": zerolog.WarnLevel,
	"e": zerolog.ErrorLevel,
}

// HandleShortcut applies one key press. It returns true when listening should stop.
func HandleShortcut(key keys.Key) bool {
	switch key.Code {
	case keys.CtrlC:
		interrupt()
		return true
	case keys.Escape:
		return true
	case keys.RuneKey:
		if lvl, ok := levelKeys[key.String()]; ok {
			zerolog.SetGlobalLevel(lvl)
			log.Info().Str("logLevel", lvl.String()).Msg("New Log level")
		}
		if key.String() == "s" {
			GetStatusHook()().Msg("Status")
		}
	}
	return false
}

// ShortcutListeners listens on the terminal for log level and status keys
// until Ctrl+C or Escape. The review command does not start it, it owns the keyboard.
func ShortcutListeners() {
	err := keyboard.Listen(func(key keys.Key) (stop bool, err error) {
		return HandleShortcut(key), nil
	})

	if err != nil {
		log.Error().Err(err).Msg("Failed hooking keyboard bindings")
	}
}
