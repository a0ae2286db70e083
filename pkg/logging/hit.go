package logging

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HitKind names what a hit event reports.
type HitKind string

const (
	// HitKindMatch is a resolved match that was not auto-rejected.
	HitKindMatch HitKind = "match"
	// HitKindTestData is a match flagged as placeholder or example data.
	HitKindTestData HitKind = "test-data"
	// HitKindLabel is a file level label recommendation.
	HitKindLabel HitKind = "label"
)

// HitLevel defines a custom log level for findings.
// Implemented as WarnLevel but transformed to "hit" in output.
const HitLevel zerolog.Level = zerolog.WarnLevel

// HitLevelWriter wraps an io.Writer to transform logs with "level":"warn" to "level":"hit".
type HitLevelWriter struct {
	out       io.Writer
	mu        sync.Mutex
	nextIsHit bool
}

func (w *HitLevelWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	isHit := w.nextIsHit
	w.nextIsHit = false
	out := w.out
	w.mu.Unlock()

	if isHit && len(p) > 0 {
		var logEntry map[string]interface{}
		if err := json.Unmarshal(p, &logEntry); err == nil {
			if logEntry["level"] == "warn" || logEntry["level"] == "error" {
				logEntry["level"] = "hit"
			}
			delete(logEntry, "_hit")

			if newBytes, err := json.Marshal(logEntry); err == nil {
				newBytes = append(newBytes, '\n')
				if _, err := out.Write(newBytes); err != nil {
					return 0, err
				}
				return len(p), nil
			}
		}
	}

	return out.Write(p)
}

func (w *HitLevelWriter) markNextAsHit() {
	w.mu.Lock()
	w.nextIsHit = true
	w.mu.Unlock()
}

func (w *HitLevelWriter) SetOutput(out io.Writer) {
	w.mu.Lock()
	w.out = out
	w.mu.Unlock()
}

// NewHitLevelWriter creates a new HitLevelWriter wrapping the given io.Writer.
func NewHitLevelWriter(out io.Writer) *HitLevelWriter {
	return &HitLevelWriter{out: out}
}

// HitEvent wraps a zerolog.Event for hit-level logging with "level":"hit" output.
type HitEvent struct {
	event  *zerolog.Event
	writer *HitLevelWriter
}

func (h *HitEvent) Str(key, val string) *HitEvent {
	h.event.Str(key, val)
	return h
}

func (h *HitEvent) Strs(key string, vals []string) *HitEvent {
	h.event.Strs(key, vals)
	return h
}

func (h *HitEvent) Int(key string, val int) *HitEvent {
	h.event.Int(key, val)
	return h
}

func (h *HitEvent) Float64(key string, val float64) *HitEvent {
	h.event.Float64(key, val)
	return h
}

func (h *HitEvent) Bool(key string, val bool) *HitEvent {
	h.event.Bool(key, val)
	return h
}

func (h *HitEvent) Err(err error) *HitEvent {
	h.event.Err(err)
	return h
}

func (h *HitEvent) Msg(msg string) {
	if h.writer != nil {
		h.writer.markNextAsHit()
	}
	h.event.Bool("_hit", true).Msg(msg)
}

var (
	globalHitWriterMu sync.Mutex
	globalHitWriter   *HitLevelWriter
)

func hitWriter() *HitLevelWriter {
	globalHitWriterMu.Lock()
	defer globalHitWriterMu.Unlock()
	if globalHitWriter == nil {
		globalHitWriter = &HitLevelWriter{out: os.Stderr}
		log.Logger = zerolog.New(globalHitWriter).With().Timestamp().Logger()
	}
	return globalHitWriter
}

// Hit creates a hit-level log event for findings.
// Always emitted regardless of global log level.
// Example: logging.Hit().Str("entity", "ssn").Msg("MATCH")
func Hit() *HitEvent {
	w := hitWriter()
	return &HitEvent{
		event:  log.WithLevel(zerolog.ErrorLevel),
		writer: w,
	}
}

// ParseLevel extends zerolog's ParseLevel to support "hit" level.
func ParseLevel(levelStr string) (zerolog.Level, error) {
	if levelStr == "hit" {
		return HitLevel, nil
	}
	return zerolog.ParseLevel(levelStr)
}

// SetGlobalHitWriter sets the HitLevelWriter the global logger writes through.
func SetGlobalHitWriter(writer *HitLevelWriter) {
	globalHitWriterMu.Lock()
	globalHitWriter = writer
	globalHitWriterMu.Unlock()
}
