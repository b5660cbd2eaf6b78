package harness

// TraceEvent is one HTTP exchange of a run, with service-generated ids
// replaced by the aliases the scenario gave them.
type TraceEvent struct {
	Seq    int64    `json:"seq"`
	Step   string   `json:"step"`
	Method string   `json:"method"`
	Path   string   `json:"path"`
	Status int      `json:"status"`
	Keys   []string `json:"keys,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// RunID identifies the run in the run log.
	RunID string `json:"run_id"`

	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every exchange in a deterministic order: setup exchanges
	// grouped per bot in scenario order, then step exchanges by sequence.
	Trace []TraceEvent `json:"trace"`

	// Errors contains one message per failed check. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(runID string) *Result {
	return &Result{
		RunID:  runID,
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
