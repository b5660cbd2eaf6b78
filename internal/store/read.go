package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		startedAt  int64
		finishedAt sql.NullInt64
		pass       sql.NullBool
		errsJSON   string
	)
	if err := row.Scan(&run.ID, &run.Scenario, &run.BaseURL, &startedAt, &finishedAt, &pass, &errsJSON); err != nil {
		return Run{}, err
	}
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64).UTC()
		run.FinishedAt = &t
	}
	if pass.Valid {
		p := pass.Bool
		run.Pass = &p
	}
	if err := json.Unmarshal([]byte(errsJSON), &run.Errors); err != nil {
		return Run{}, fmt.Errorf("decode run errors: %w", err)
	}
	return run, nil
}

// ReadRun returns the run with id.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, base_url, started_at, finished_at, pass, errors
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, most recent first. A limit of zero or
// less returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, scenario, base_url, started_at, finished_at, pass, errors
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadExchanges returns the exchanges of a run ordered by seq.
// Returns an empty slice (not nil) when the run recorded none.
func (s *Store) ReadExchanges(ctx context.Context, runID string) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, seq, step, method, path, status, location, request_body, response_body, duration_ms, error
		FROM exchanges
		WHERE run_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	exchanges := []Exchange{}
	for rows.Next() {
		var (
			ex         Exchange
			durationMS int64
		)
		if err := rows.Scan(&ex.ID, &ex.RunID, &ex.Seq, &ex.Step, &ex.Method, &ex.Path, &ex.Status,
			&ex.Location, &ex.RequestBody, &ex.ResponseBody, &durationMS, &ex.Error); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		ex.Duration = time.Duration(durationMS) * time.Millisecond
		exchanges = append(exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchanges: %w", err)
	}
	return exchanges, nil
}
