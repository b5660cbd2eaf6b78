package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// beginTestRun inserts a run with the given id and start time.
func beginTestRun(t *testing.T, s *Store, id string, startedAt time.Time) {
	t.Helper()
	err := s.BeginRun(context.Background(), Run{
		ID:        id,
		Scenario:  "scenario-" + id,
		BaseURL:   "http://localhost:7070",
		StartedAt: startedAt,
	})
	if err != nil {
		t.Fatalf("BeginRun(%s) failed: %v", id, err)
	}
}
