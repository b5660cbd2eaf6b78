package deploy

import (
	"errors"
	"fmt"
	"time"

	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// FailedError reports a deployment that ended in ERROR. It is fatal for
// every scenario depending on the bot.
type FailedError struct {
	ID resource.ID
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("deployment of bot %s version %d failed", e.ID.ID, e.ID.Version)
}

// TimeoutError reports a deployment still not terminal when the poll
// deadline passed.
type TimeoutError struct {
	ID    resource.ID
	Last  Status
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("deployment of bot %s version %d not ready after %s (last status %s)",
		e.ID.ID, e.ID.Version, e.After, e.Last)
}

// IsFailed reports whether err wraps a *FailedError.
func IsFailed(err error) bool {
	var fe *FailedError
	return errors.As(err, &fe)
}

// IsTimeout reports whether err wraps a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
