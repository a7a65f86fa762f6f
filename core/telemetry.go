package core

import "time"

// TelemetryHook receives notifications about API command lifecycle events.
// Implementations can use this for logging, metrics, tracing, etc.
//
// # Security Considerations
//
// Event types NEVER include the API key or parameter values. Render
// parameters can carry user text and access parameters are credentials,
// so only the command name, request id, attempt number and timing are
// exposed. Keep it that way when adding fields.
type TelemetryHook interface {
	// OnCommandStart is called before every attempt of an API command.
	OnCommandStart(e CommandStartEvent)

	// OnCommandEnd is called after every attempt of an API command.
	OnCommandEnd(e CommandEndEvent)
}

// CommandStartEvent contains metadata about a starting attempt.
type CommandStartEvent struct {
	Command   string    // Command name (e.g., "get-token")
	RequestID RequestID // Correlation id shared by all attempts
	Attempt   int       // 1-based attempt number
	Start     time.Time // When the attempt started
}

// CommandEndEvent contains metadata about a finished attempt.
type CommandEndEvent struct {
	Command   string
	RequestID RequestID
	Attempt   int
	Start     time.Time
	End       time.Time
	Err       error // nil on success
}

// Duration returns the elapsed time for the attempt.
func (e CommandEndEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// NoopTelemetryHook is a no-op implementation of TelemetryHook.
type NoopTelemetryHook struct{}

// OnCommandStart does nothing.
func (NoopTelemetryHook) OnCommandStart(CommandStartEvent) {}

// OnCommandEnd does nothing.
func (NoopTelemetryHook) OnCommandEnd(CommandEndEvent) {}

var _ TelemetryHook = NoopTelemetryHook{}
