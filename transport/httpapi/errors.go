package httpapi

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/pijaz/pijaz-go/core"
)

// maxErrorBody bounds how much of an error body ends up in messages.
const maxErrorBody = 256

// normalizeError converts a non-2xx response to a transport CommandError.
func normalizeError(command string, status int, body []byte) error {
	message := truncateMessage(strings.TrimSpace(string(body)))
	if message == "" || strings.HasPrefix(message, "<") {
		message = http.StatusText(status)
	}

	return &core.CommandError{
		Command: command,
		Status:  status,
		Message: message,
		Err:     core.ErrTransport,
	}
}

// truncateMessage caps s at maxErrorBody bytes without splitting a rune.
// Invalid UTF-8 in the body is replaced first.
func truncateMessage(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// newNetworkError wraps connection-level failures.
func newNetworkError(command string, err error) error {
	return core.TransportError(command, 0, err)
}

// newBreakerError reports a command refused by the circuit breaker.
func newBreakerError(command string, err error) error {
	return &core.CommandError{
		Command: command,
		Message: "api server unavailable: " + err.Error(),
		Err:     core.ErrTransport,
	}
}
