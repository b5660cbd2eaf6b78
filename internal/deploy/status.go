package deploy

import (
	"fmt"
	"strings"
)

// Status is the deployment state the service reports for a bot version.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusReady      Status = "READY"
	StatusError      Status = "ERROR"
	StatusNotFound   Status = "NOT_FOUND"
)

// Terminal reports whether polling stops at s.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// ParseStatus parses the plain-text status body. Surrounding whitespace
// and quotes are ignored.
func ParseStatus(text string) (Status, error) {
	s := Status(strings.ToUpper(strings.Trim(strings.TrimSpace(text), `"`)))
	switch s {
	case StatusInProgress, StatusReady, StatusError, StatusNotFound:
		return s, nil
	default:
		return "", fmt.Errorf("unknown deployment status %q", text)
	}
}
