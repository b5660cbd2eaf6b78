package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsai/EDDI-integration-tests/internal/store"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Step: "setup:main", Method: "POST", Path: "/botstore/bots/", Status: 201},
		{Seq: 2, Step: "setup:main", Method: "POST", Path: "/administration/unrestricted/deploy/{main}?version=1", Status: 202},
		{Seq: 3, Step: "setup:main", Method: "GET", Path: "/administration/unrestricted/deploymentstatus/{main}?version=1", Status: 200},
		{Seq: 4, Step: "1:conversation", Method: "POST", Path: "/bots/unrestricted/{main}/?userId={c.user}", Status: 201},
		{Seq: 5, Step: "2:say", Method: "POST", Path: "/bots/unrestricted/{main}/{c}?returnCurrentStepOnly=false&returnDetailed=false", Status: 200},
		{Seq: 6, Step: "3:say", Method: "POST", Path: "/bots/unrestricted/{main}/{c}?returnCurrentStepOnly=false&returnDetailed=false", Status: 410},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   bool
	}{
		{name: "method and path", assertion: Assertion{Method: "POST", Path: "/botstore/bots/"}},
		{name: "method is case insensitive", assertion: Assertion{Method: "get", Path: "/administration/"}},
		{name: "path prefix ignores query", assertion: Assertion{Path: "/administration/unrestricted/deploy/{main}"}},
		{name: "status", assertion: Assertion{Path: "/bots/unrestricted/{main}/{c}", Status: 410}},
		{name: "wrong status", assertion: Assertion{Path: "/botstore/bots/", Status: 500}, wantErr: true},
		{name: "wrong method", assertion: Assertion{Method: "DELETE"}, wantErr: true},
		{name: "query is not part of the prefix", assertion: Assertion{Path: "/bots/unrestricted/{main}/{c}?returnDetailed"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertTraceContains
			err := assertTraceContains(trace, tt.assertion)
			if tt.wantErr {
				require.Error(t, err)
				var aerr *AssertionError
				require.ErrorAs(t, err, &aerr)
				assert.Equal(t, AssertTraceContains, aerr.Type)
				assert.Len(t, aerr.Trace, len(trace))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	err := assertTraceOrder(trace, Assertion{Paths: []string{
		"/botstore/bots/",
		"/administration/unrestricted/deploy/",
		"/bots/unrestricted/{main}",
	}})
	assert.NoError(t, err)

	err = assertTraceOrder(trace, Assertion{Paths: []string{
		"/bots/unrestricted/{main}",
		"/botstore/bots/",
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Paths: []string{"/botstore/bots/", "/parser/"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing path: /parser/")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Method: "POST", Path: "/bots/", Count: 3}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Method: "DELETE", Count: 0}))

	err := assertTraceCount(trace, Assertion{Method: "GET", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 occurrences")
}

func TestAssertionError_ListsTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceCount,
		Expected: "2 occurrences of GET *",
		Actual:   "1 occurrences",
		Trace:    sampleTrace()[:1],
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "[1] POST /botstore/bots/ -> 201 (setup:main)")
}

// createRunLog opens a run log holding two runs so scoping to the current
// run is observable.
func createRunLog(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	started := time.UnixMilli(1_700_000_000_000)
	for _, id := range []string{"run-a", "run-b"} {
		require.NoError(t, st.BeginRun(ctx, store.Run{ID: id, Scenario: "scenario-" + id, BaseURL: "http://localhost:7070", StartedAt: started}))
	}
	exchanges := []store.Exchange{
		{RunID: "run-a", Seq: 1, Step: "1:create", Method: "POST", Path: "/behaviorstore/behaviorsets/", Status: 201},
		{RunID: "run-a", Seq: 2, Step: "2:delete", Method: "DELETE", Path: "/behaviorstore/behaviorsets/x?version=1", Status: 200},
		{RunID: "run-a", Seq: 3, Step: "2:delete", Method: "GET", Path: "/behaviorstore/behaviorsets/x?version=1", Status: 404, ResponseBody: []byte("gone")},
		{RunID: "run-b", Seq: 1, Step: "1:delete", Method: "DELETE", Path: "/behaviorstore/behaviorsets/y?version=1", Status: 500},
	}
	for _, ex := range exchanges {
		require.NoError(t, st.WriteExchange(ctx, ex))
	}
	require.NoError(t, st.FinishRun(ctx, "run-b", false, []string{"boom"}, started.Add(time.Second)))
	return st
}

func TestAssertFinalState(t *testing.T) {
	st := createRunLog(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		runID     string
		assertion Assertion
		wantErr   string
	}{
		{
			name:      "matching exchange of current run",
			runID:     "run-a",
			assertion: Assertion{Table: "exchanges", Where: map[string]any{"method": "DELETE"}, Expect: map[string]any{"status": 200, "step": "2:delete"}},
		},
		{
			name:      "other run is not visible",
			runID:     "run-b",
			assertion: Assertion{Table: "exchanges", Where: map[string]any{"method": "DELETE"}, Expect: map[string]any{"status": 500}},
		},
		{
			name:      "blob compares as text",
			runID:     "run-a",
			assertion: Assertion{Table: "exchanges", Where: map[string]any{"status": 404}, Expect: map[string]any{"response_body": "gone"}},
		},
		{
			name:      "boolean column",
			runID:     "run-b",
			assertion: Assertion{Table: "runs", Expect: map[string]any{"pass": false, "scenario": "scenario-run-b"}},
		},
		{
			name:      "value mismatch",
			runID:     "run-a",
			assertion: Assertion{Table: "exchanges", Where: map[string]any{"seq": 1}, Expect: map[string]any{"status": 200}},
			wantErr:   `field "status" = 200`,
		},
		{
			name:      "ambiguous match",
			runID:     "run-a",
			assertion: Assertion{Table: "exchanges", Where: map[string]any{"step": "2:delete"}, Expect: map[string]any{"status": 200}},
			wantErr:   "multiple rows matched",
		},
		{
			name:      "no match",
			runID:     "run-a",
			assertion: Assertion{Table: "exchanges", Where: map[string]any{"method": "PATCH"}, Expect: map[string]any{"status": 200}},
			wantErr:   "row not found",
		},
		{
			name:      "unknown column",
			runID:     "run-a",
			assertion: Assertion{Table: "runs", Expect: map[string]any{"verdict": "pass"}},
			wantErr:   "not present in result columns",
		},
		{
			name:      "unknown table",
			runID:     "run-a",
			assertion: Assertion{Table: "bots", Expect: map[string]any{"id": "x"}},
			wantErr:   "invalid table",
		},
		{
			name:      "injection in column name",
			runID:     "run-a",
			assertion: Assertion{Table: "exchanges", Where: map[string]any{"1=1 OR method": "GET"}, Expect: map[string]any{"status": 200}},
			wantErr:   "invalid column name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertFinalState
			err := assertFinalState(ctx, st, tt.runID, tt.assertion)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	st := createRunLog(t)
	result := NewResult("run-a")
	result.Trace = sampleTrace()

	msgs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Method: "POST", Path: "/botstore/bots/"},
		{Type: AssertTraceCount, Method: "POST", Count: 1},
		{Type: AssertFinalState, Table: "exchanges", Where: map[string]any{"seq": 1}, Expect: map[string]any{"status": 201}},
		{Type: "trace_excludes"},
	}, &AssertionContext{Store: st, Ctx: context.Background(), RunID: "run-a"})

	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "trace_count")
	assert.Contains(t, msgs[1], `unknown assertion type "trace_excludes"`)
}

func TestEvaluateAssertions_FinalStateWithoutRunLog(t *testing.T) {
	msgs := EvaluateAssertions(NewResult("r"), []Assertion{
		{Type: AssertFinalState, Table: "runs", Expect: map[string]any{"pass": true}},
	}, nil)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "requires a run log")
}
