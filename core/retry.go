package core

import (
	"context"
	"errors"
)

// isRetryable determines if a failed attempt should be re-issued.
// Only transport failures qualify. Retries are immediate; pacing belongs
// to the transport (see httpapi.WithRateLimit).
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation is not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// A server decision or an unreadable body will not change on a second try
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrMalformedResponse) {
		return false
	}

	return errors.Is(err, ErrTransport)
}
