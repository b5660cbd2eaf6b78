package conversation

import "github.com/labsai/EDDI-integration-tests/internal/resource"

// Session tracks what the harness knows about one conversation. It is
// updated from every snapshot the service returns.
type Session struct {
	Bot           resource.ID
	Conversation  resource.ID
	UserID        string
	State         State
	UndoAvailable bool
	RedoAvailable bool
	Steps         int
}

// NewSession returns a session for a conversation just created.
func NewSession(bot, conv resource.ID, userID string) *Session {
	return &Session{Bot: bot, Conversation: conv, UserID: userID, State: StateReady}
}

// Observe folds a snapshot into the session. ENDED is terminal: a later
// snapshot cannot reopen the session.
func (s *Session) Observe(l *Log) {
	if l == nil {
		return
	}
	if s.State != StateEnded {
		s.State = l.ConversationState
	}
	s.UndoAvailable = l.UndoAvailable
	s.RedoAvailable = l.CanRedo()
	if n := l.StepCount(); n > s.Steps {
		s.Steps = n
	}
}

// Ended reports whether the conversation reached ENDED.
func (s *Session) Ended() bool {
	return s.State == StateEnded
}
