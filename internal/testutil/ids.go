package testutil

import (
	"fmt"
	"sync"
)

// ObjectIDs hands out deterministic 24-digit hex identifiers in the shape
// the service uses for stored documents.
//
// The first call to Next returns "000000000000000000000001".
// All methods are safe for concurrent use.
type ObjectIDs struct {
	mu  sync.Mutex
	seq int64
}

// NewObjectIDs creates a generator starting at zero.
func NewObjectIDs() *ObjectIDs {
	return &ObjectIDs{}
}

// Next advances the sequence and returns the new identifier.
func (g *ObjectIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%024x", g.seq)
}

// Issued returns how many identifiers have been handed out.
func (g *ObjectIDs) Issued() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence so a scenario replays with identical ids.
func (g *ObjectIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}

// FixedRunIDGenerator returns the same run id on every call. Golden trace
// snapshots embed the run id, so tests pin it.
type FixedRunIDGenerator struct {
	id string
}

// NewFixedRunIDGenerator returns a generator for id, or "test-run-default"
// when id is empty.
func NewFixedRunIDGenerator(id string) *FixedRunIDGenerator {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunIDGenerator{id: id}
}

// Generate returns the fixed run id.
func (g *FixedRunIDGenerator) Generate() string {
	return g.id
}
