package core

import (
	"errors"
	"fmt"
)

// CommandError represents a failed API server command with full context.
type CommandError struct {
	Command   string
	Status    int
	RequestID RequestID
	ResultNum int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	switch {
	case e.ResultNum != 0:
		return fmt.Sprintf("%s: %s (result_num=%d, request_id=%s)",
			e.Command, e.Message, e.ResultNum, e.RequestID)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s (status=%d, request_id=%s)",
			e.Command, e.Message, e.Status, e.RequestID)
	case e.RequestID != "":
		return fmt.Sprintf("%s: %s (request_id=%s)", e.Command, e.Message, e.RequestID)
	default:
		return fmt.Sprintf("%s: %s", e.Command, e.Message)
	}
}

// Unwrap returns the underlying error for error chaining.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// Sentinel errors for classification.
var (
	// ErrTransport covers connection failures, timeouts and non-2xx statuses.
	// Commands failing this way are retried up to Config.MaxAttempts.
	ErrTransport = errors.New("transport error")
	// ErrRejected means the API server answered with a non-zero result_num.
	ErrRejected = errors.New("rejected by api server")
	// ErrMalformedResponse means the response body was not the expected envelope.
	ErrMalformedResponse = errors.New("malformed response")
)

// Validation errors with actionable guidance.
var (
	ErrWorkflowRequired = errors.New("workflow required: set a workflow ID on the product or pass a \"workflow\" render parameter")
	ErrInvalidConfig    = errors.New("invalid server manager config")
	ErrInvalidCommand   = errors.New("invalid api command")
	ErrNoTransport      = errors.New("no transport: pass a Transport to NewServerManager, e.g. httpapi.New()")
)

// TransportError wraps a lower-level failure as a retryable transport error.
func TransportError(command string, status int, err error) error {
	msg := "request failed"
	if err != nil {
		msg = err.Error()
	}
	return &CommandError{
		Command: command,
		Status:  status,
		Message: msg,
		Err:     ErrTransport,
	}
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsRejected reports whether err is an application-level rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}
