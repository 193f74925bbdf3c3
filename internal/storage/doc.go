// Package storage persists one-shot task records in SQLite.
//
// It is the single source of truth for task state: every mutating
// operation is a single conditional statement so concurrent workers
// cannot read-modify-write each other's transitions.
package storage
