package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/labsai/EDDI-integration-tests/internal/client"
)

// RunRecorder writes every client exchange into the run log of one run.
// Write failures do not interrupt the run; they are collected and
// reported by Err.
type RunRecorder struct {
	store  *Store
	runID  string
	logger *slog.Logger

	mu   sync.Mutex
	errs []error
}

// Recorder returns a client.Recorder bound to runID.
func (s *Store) Recorder(runID string, logger *slog.Logger) *RunRecorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RunRecorder{store: s, runID: runID, logger: logger}
}

// Record implements client.Recorder.
func (r *RunRecorder) Record(ctx context.Context, ex client.Exchange) {
	err := r.store.WriteExchange(context.WithoutCancel(ctx), Exchange{
		RunID:        r.runID,
		Seq:          ex.Seq,
		Step:         ex.Step,
		Method:       ex.Method,
		Path:         ex.Path,
		Status:       ex.Status,
		Location:     ex.Location,
		RequestBody:  ex.RequestBody,
		ResponseBody: ex.ResponseBody,
		Duration:     ex.Duration,
		Error:        ex.Err,
	})
	if err != nil {
		r.logger.Warn("exchange not recorded", "run", r.runID, "seq", ex.Seq, "error", err)
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	}
}

// Err returns every write failure seen so far, joined.
func (r *RunRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}
