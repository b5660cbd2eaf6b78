package store

import "time"

// Run is one execution of a scenario.
type Run struct {
	ID         string
	Scenario   string
	BaseURL    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Pass       *bool
	Errors     []string
}

// Exchange is one recorded HTTP round trip of a run.
type Exchange struct {
	ID           string
	RunID        string
	Seq          int64
	Step         string
	Method       string
	Path         string
	Status       int
	Location     string
	RequestBody  []byte
	ResponseBody []byte
	Duration     time.Duration
	Error        string
}
