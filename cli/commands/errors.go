package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pijaz/pijaz-go/core"
)

// Exit codes
const (
	ExitSuccess    = 0
	ExitValidation = 1
	ExitRejected   = 2
	ExitNetwork    = 3
)

// exitError wraps an error with an exit code.
type exitError struct {
	code     int
	err      error
	reported bool // already written to stderr
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func (e *exitError) ExitCode() int {
	return e.code
}

func exitWithCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// handleError reports a failed render or API command and picks the exit code.
func (a *App) handleError(err error) error {
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}

	code, kind := classify(err)
	out := &exitError{code: code, err: err, reported: true}

	var ce *core.CommandError
	hasCE := errors.As(err, &ce)

	if a.jsonOutput {
		body := map[string]any{
			"type":    kind,
			"message": err.Error(),
		}
		if hasCE {
			body["command"] = ce.Command
			if ce.RequestID != "" {
				body["request_id"] = ce.RequestID
			}
			if ce.ResultNum != 0 {
				body["result_num"] = ce.ResultNum
			}
			if ce.Status != 0 {
				body["status"] = ce.Status
			}
		}
		enc := json.NewEncoder(a.stderr)
		enc.SetIndent("", "  ")
		enc.Encode(map[string]any{"error": body})
		return out
	}

	if hasCE && ce.ResultNum != 0 {
		fmt.Fprintf(a.stderr, "Error: %s rejected: %s\n", ce.Command, ce.Message)
		fmt.Fprintf(a.stderr, "  result_num: %d, request_id: %s\n", ce.ResultNum, ce.RequestID)
		return out
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return out
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrRejected):
		return ExitRejected, "rejected"
	case errors.Is(err, core.ErrTransport),
		errors.Is(err, core.ErrMalformedResponse),
		errors.Is(err, context.DeadlineExceeded):
		return ExitNetwork, "network_error"
	case errors.Is(err, core.ErrWorkflowRequired), errors.Is(err, core.ErrInvalidConfig),
		errors.Is(err, core.ErrInvalidCommand):
		return ExitValidation, "validation_error"
	default:
		return ExitValidation, "error"
	}
}
