// Package common provides the logging, terminal and configuration plumbing
// shared by every docleek command.
package common

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/format"
	"github.com/CompassSecurity/docleek/pkg/httpclient"
	"github.com/CompassSecurity/docleek/pkg/logging"
	"github.com/CompassSecurity/docleek/pkg/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version information - set via ldflags during build
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Log configuration
var (
	originalTermState *term.State
	JsonLogoutput     bool
	LogFile           string
	LogColor          bool
	LogDebug          bool
	LogLevel          string
	IgnoreProxy       bool
)

// Configuration sources
var (
	ConfigFile  string
	TablesFile  string
	DotenvFiles []string
)

// KeyboardAnnotation marks commands that read the keyboard themselves, the
// shortcut listener is not started for them.
const KeyboardAnnotation = "docleek/keyboard"

// TerminalRestorer is a function that can be called to restore terminal state
var TerminalRestorer func()

// CustomWriter wraps an os.File with proper cross-platform newline handling
type CustomWriter struct {
	Writer *os.File
}

func (cw *CustomWriter) Write(p []byte) (n int, err error) {
	originalLen := len(p)
	p = bytes.TrimSuffix(p, []byte("\n"))

	// necessary as to: https://github.com/rs/zerolog/blob/master/log.go#L474
	newlineChars := []byte("\n")
	if runtime.GOOS == "windows" {
		newlineChars = []byte("\n\r")
	}

	modified := append(p, newlineChars...)

	written, err := cw.Writer.Write(modified)
	if err != nil {
		return 0, err
	}

	if written != len(modified) {
		return 0, io.ErrShortWrite
	}

	return originalLen, nil
}

// FatalHook is a zerolog hook that restores terminal state before fatal exits
type FatalHook struct{}

func (h FatalHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level == zerolog.FatalLevel {
		if TerminalRestorer != nil {
			TerminalRestorer()
		}
	}
}

// SaveTerminalState saves the current terminal state for later restoration
func SaveTerminalState() {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		state, err := term.GetState(int(os.Stdin.Fd()))
		if err == nil {
			originalTermState = state
		}
	}
}

// RestoreTerminalState restores the terminal to its saved state
func RestoreTerminalState() {
	if originalTermState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), originalTermState)
	}
}

// InitLogger initializes the zerolog logger with the configured options
func InitLogger(cmd *cobra.Command) {
	defaultOut := &CustomWriter{Writer: os.Stderr}
	colorEnabled := LogColor

	if LogFile != "" {
		// #nosec G304 - User-provided log file path via --logfile flag
		runLogFile, err := os.OpenFile(
			LogFile,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY,
			format.FileUserReadWrite,
		)
		if err != nil {
			panic(err)
		}
		defaultOut = &CustomWriter{Writer: runLogFile}

		rootFlags := cmd.Root().PersistentFlags()
		if !rootFlags.Changed("color") {
			colorEnabled = false
		}
	}

	fatalHook := FatalHook{}
	hitWriter := &logging.HitLevelWriter{}

	if JsonLogoutput {
		hitWriter.SetOutput(defaultOut)
	} else {
		// HitLevelWriter rewrites the level before ConsoleWriter formats it
		hitWriter.SetOutput(&zerolog.ConsoleWriter{
			Out:         defaultOut,
			TimeFormat:  time.RFC3339,
			NoColor:     !colorEnabled,
			FormatLevel: formatLevelWithHitColor(colorEnabled),
		})
	}
	logging.SetGlobalHitWriter(hitWriter)
	log.Logger = zerolog.New(hitWriter).With().Timestamp().Logger().Hook(fatalHook)
}

// formatLevelWithHitColor returns a custom level formatter that adds a distinct color for the "hit" level.
func formatLevelWithHitColor(colorEnabled bool) zerolog.Formatter {
	return func(i interface{}) string {
		level, ok := i.(string)
		if !ok {
			return ""
		}
		if !colorEnabled {
			return level
		}

		switch level {
		case "hit":
			return "\x1b[35m" + level + "\x1b[0m"
		case "trace":
			return "\x1b[90m" + level + "\x1b[0m"
		case "info":
			return "\x1b[32m" + level + "\x1b[0m"
		case "warn":
			return "\x1b[33m" + level + "\x1b[0m"
		case "error", "fatal", "panic":
			return "\x1b[31m" + level + "\x1b[0m"
		default:
			return level
		}
	}
}

var logLevels = map[string]zerolog.Level{
	"trace": zerolog.TraceLevel,
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
	"error": zerolog.ErrorLevel,
}

// SetGlobalLogLevel sets the global log level based on the configured options
func SetGlobalLogLevel(cmd *cobra.Command) {
	if LogLevel != "" {
		lvl, ok := logLevels[LogLevel]
		if !ok {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			log.Warn().Str("logLevelSpecified", LogLevel).Msg("Invalid log level, defaulting to info")
			return
		}
		zerolog.SetGlobalLevel(lvl)
		log.Debug().Str("level", lvl.String()).Msg("Log level set (explicit)")
		return
	}

	if LogDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Debug().Msg("Log level set to debug (-v)")
		return
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// AddCommonFlags adds the common logging, output and configuration flags to a cobra command
func AddCommonFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&JsonLogoutput, "json", "", false, "Use JSON as log output format")
	cmd.PersistentFlags().StringVarP(&LogFile, "logfile", "l", "", "Log output to a file")
	cmd.PersistentFlags().BoolVarP(&LogDebug, "verbose", "v", false, "Enable debug logging (shortcut for --log-level=debug)")
	cmd.PersistentFlags().StringVar(&LogLevel, "log-level", "", "Set log level globally (trace, debug, info, warn, error). Example: --log-level=warn")
	cmd.PersistentFlags().BoolVar(&LogColor, "color", true, "Enable colored log output (auto-disabled when using --logfile)")
	cmd.PersistentFlags().BoolVar(&IgnoreProxy, "ignore-proxy", false, "Ignore HTTP_PROXY environment variable")

	cmd.PersistentFlags().StringVarP(&ConfigFile, "config", "c", "", "Config file, defaults to docleek.yaml in . or $HOME/.config/docleek")
	cmd.PersistentFlags().StringVar(&TablesFile, "tables", "", "YAML file overriding the label, redaction and confidence tables")
	cmd.PersistentFlags().StringSliceVar(&DotenvFiles, "env-file", []string{".env"}, "Dotenv files loaded before reading DOCLEEK_* overrides")
	cmd.PersistentFlags().String("actor", "", "Name recorded on audit entries and review verdicts")
	cmd.PersistentFlags().String("store", "", "Path of the encrypted findings database")
	cmd.PersistentFlags().String("audit-log", "", "Path of the audit log, defaults to the store path with .audit.jsonl appended")
	cmd.PersistentFlags().String("key-source", "", "Where the store key comes from: keyring or env")
}

// SetupPersistentPreRun sets up the PersistentPreRun handler for logging initialization
func SetupPersistentPreRun(cmd *cobra.Command) {
	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		InitLogger(c)
		SetGlobalLogLevel(c)
		httpclient.SetIgnoreProxy(IgnoreProxy)
		if _, owned := c.Annotations[KeyboardAnnotation]; !owned && term.IsTerminal(int(os.Stdin.Fd())) {
			go logging.ShortcutListeners()
		}
	}
}

// LoadConfig builds the configuration for cmd from the config file, the
// environment and the flags it was invoked with.
func LoadConfig(cmd *cobra.Command) config.Config {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile:  ConfigFile,
		TablesFile:  TablesFile,
		DotenvFiles: DotenvFiles,
		Flags:       cmd.Flags(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}

// OpenStore opens the findings store or exits.
func OpenStore(ctx context.Context, cfg config.Config) *store.Store {
	st, err := store.Open(ctx, store.OptionsFromConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Store.Path).Msg("Failed opening findings store")
	}
	return st
}

// SignalContext is cancelled on SIGINT, SIGTERM or Ctrl+C at the shortcut
// listener. A second signal exits immediately.
func SignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChannel := make(chan os.Signal, 2)
	signal.Notify(sigChannel, os.Interrupt, syscall.SIGTERM)

	shutdown := func() {
		if ctx.Err() != nil {
			return
		}
		log.Info().Msg("Received interrupt signal, shutting down gracefully...")
		cancel()
	}
	logging.RegisterInterruptHook(shutdown)

	go func() {
		select {
		case <-sigChannel:
			shutdown()
		case <-ctx.Done():
			return
		}
		<-sigChannel
		RestoreTerminalState()
		os.Exit(130)
	}()

	return ctx, func() {
		signal.Stop(sigChannel)
		logging.RegisterInterruptHook(nil)
		cancel()
	}
}

// Run executes the common startup sequence and runs the provided root command
func Run(rootCmd *cobra.Command) {
	SaveTerminalState()
	defer RestoreTerminalState()

	TerminalRestorer = RestoreTerminalState

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
