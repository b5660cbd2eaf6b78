package conversation

// State is the lifecycle state of a conversation.
type State string

const (
	StateReady      State = "READY"
	StateInProgress State = "IN_PROGRESS"
	StateEnded      State = "ENDED"
	StateError      State = "ERROR"
)

// Entry is one event recorded during a conversation turn.
type Entry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Step is the ordered list of entries produced by one turn. The order is
// exactly the order the service emitted them in.
type Step struct {
	Entries   []Entry `json:"conversationStep"`
	Timestamp any     `json:"timestamp,omitempty"`
}

// Keys returns the entry keys in order.
func (s Step) Keys() []string {
	keys := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		keys[i] = e.Key
	}
	return keys
}

// Index returns the position of the first entry with key, or -1.
func (s Step) Index(key string) int {
	for i, e := range s.Entries {
		if e.Key == key {
			return i
		}
	}
	return -1
}

// Find returns the first entry with key.
func (s Step) Find(key string) (Entry, bool) {
	if i := s.Index(key); i >= 0 {
		return s.Entries[i], true
	}
	return Entry{}, false
}

// Log is the conversation snapshot returned by input and log requests.
type Log struct {
	BotID                  string           `json:"botId"`
	BotVersion             int              `json:"botVersion"`
	UserID                 string           `json:"userId,omitempty"`
	Environment            string           `json:"environment"`
	ConversationState      State            `json:"conversationState"`
	UndoAvailable          bool             `json:"undoAvailable"`
	RedoAvailable          bool             `json:"redoAvailable"`
	RedoCacheSize          *int             `json:"redoCacheSize,omitempty"`
	ConversationSteps      []Step           `json:"conversationSteps"`
	ConversationOutputs    []map[string]any `json:"conversationOutputs,omitempty"`
	ConversationProperties map[string]any   `json:"conversationProperties,omitempty"`
}

// StepCount returns the number of visible steps.
func (l *Log) StepCount() int {
	return len(l.ConversationSteps)
}

// Step returns the step at index i.
func (l *Log) Step(i int) (Step, bool) {
	if i < 0 || i >= len(l.ConversationSteps) {
		return Step{}, false
	}
	return l.ConversationSteps[i], true
}

// LastStep returns the most recent visible step.
func (l *Log) LastStep() (Step, bool) {
	return l.Step(len(l.ConversationSteps) - 1)
}

// CanRedo reports redo availability from either the flag or the redo
// cache size, whichever the service sends.
func (l *Log) CanRedo() bool {
	return l.RedoAvailable || (l.RedoCacheSize != nil && *l.RedoCacheSize > 0)
}
