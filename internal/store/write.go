package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/labsai/EDDI-integration-tests/internal/canon"
)

// BeginRun inserts a run record. A second call for the same ID is ignored.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, scenario, base_url, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Scenario, run.BaseURL, run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun records the verdict and assertion errors of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, pass bool, errs []string, at time.Time) error {
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, pass = ?, errors = ? WHERE id = ?
	`, at.UnixMilli(), pass, string(errsJSON), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// ExchangeID derives the content-addressed id of the exchange with seq in
// run runID.
func ExchangeID(runID string, seq int64) (string, error) {
	return canon.Hash("exchange", map[string]any{"run_id": runID, "seq": seq})
}

// WriteExchange inserts an exchange. Writing the same run and seq twice is
// a no-op.
func (s *Store) WriteExchange(ctx context.Context, ex Exchange) error {
	if ex.ID == "" {
		id, err := ExchangeID(ex.RunID, ex.Seq)
		if err != nil {
			return fmt.Errorf("write exchange: %w", err)
		}
		ex.ID = id
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges
		(id, run_id, seq, step, method, path, status, location, request_body, response_body, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ex.ID,
		ex.RunID,
		ex.Seq,
		ex.Step,
		ex.Method,
		ex.Path,
		ex.Status,
		ex.Location,
		ex.RequestBody,
		ex.ResponseBody,
		ex.Duration.Milliseconds(),
		ex.Error,
	)
	if err != nil {
		return fmt.Errorf("write exchange: %w", err)
	}
	return nil
}
