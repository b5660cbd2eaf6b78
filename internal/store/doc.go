// Package store persists conformance runs and every HTTP exchange they
// performed in SQLite, so a failing run can be inspected after the fact.
//
// Reads are deterministic: exchanges come back ordered by seq, runs by
// start time then id.
package store
