// Package logging builds the CLI's zerolog logger and a telemetry hook that
// reports API command attempts through it.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pijaz/pijaz-go/core"
)

// Options configures New.
type Options struct {
	// Format is "console" (default) or "json".
	Format string
	// Level is a zerolog level name; empty means "warn", or "debug" with Verbose.
	Level string
	// Verbose forces debug level.
	Verbose bool
}

// New creates a logger writing to out.
func New(out io.Writer, opts Options) (zerolog.Logger, error) {
	level := zerolog.WarnLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	switch strings.ToLower(opts.Format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (want console or json)", opts.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// TelemetryHook logs every API command attempt at debug level and failed
// attempts at warn level.
type TelemetryHook struct {
	log zerolog.Logger
}

// NewTelemetryHook returns a hook writing to log.
func NewTelemetryHook(log zerolog.Logger) *TelemetryHook {
	return &TelemetryHook{log: log.With().Str("component", "telemetry").Logger()}
}

// OnCommandStart implements core.TelemetryHook.
func (h *TelemetryHook) OnCommandStart(e core.CommandStartEvent) {
	h.log.Debug().
		Str("command", e.Command).
		Str("request_id", string(e.RequestID)).
		Int("attempt", e.Attempt).
		Msg("api command started")
}

// OnCommandEnd implements core.TelemetryHook.
func (h *TelemetryHook) OnCommandEnd(e core.CommandEndEvent) {
	ev := h.log.Debug()
	if e.Err != nil {
		ev = h.log.Warn().Err(e.Err)
	}
	ev.Str("command", e.Command).
		Str("request_id", string(e.RequestID)).
		Int("attempt", e.Attempt).
		Dur("duration", e.Duration()).
		Msg("api command finished")
}

var _ core.TelemetryHook = (*TelemetryHook)(nil)
