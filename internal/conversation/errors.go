package conversation

import (
	"errors"
	"fmt"
)

// EndedMessage is the exact body the service answers input to an ended
// conversation with.
const EndedMessage = "Conversation has ended!"

// EndedError reports input sent to a conversation that has ended.
type EndedError struct {
	Conversation string
	Status       int
	Body         string
}

func (e *EndedError) Error() string {
	return fmt.Sprintf("conversation %s has ended (status %d): %s", e.Conversation, e.Status, e.Body)
}

// IsEnded reports whether err wraps an *EndedError.
func IsEnded(err error) bool {
	var ee *EndedError
	return errors.As(err, &ee)
}

// OrderError reports a step whose entries break causal order.
type OrderError struct {
	Index    int
	Key      string
	Previous string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("entry %d %q appears after %q", e.Index, e.Key, e.Previous)
}
