package resource

import (
	"errors"
	"fmt"
	"net/http"
)

// ProtocolError reports a response that violates the service contract:
// an unexpected status, Location or version. Protocol errors are never
// retried.
type ProtocolError struct {
	Op       string
	Method   string
	URL      string
	Want     string
	Status   int
	Location string
	Body     string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: %s %s: want %s, got status %d", e.Op, e.Method, e.URL, e.Want, e.Status)
	if e.Location != "" {
		msg += fmt.Sprintf(" location %q", e.Location)
	}
	if e.Body != "" {
		msg += fmt.Sprintf(" body %q", truncate(e.Body, 256))
	}
	return msg
}

// IsProtocolError reports whether err wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsNotFound reports whether err is a protocol error carrying a 404.
func IsNotFound(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Status == http.StatusNotFound
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
