// Package index implements the search side of a document directory: a
// bbolt-backed term and slot index owned by a single writer goroutine,
// a bounded write queue deciding when commits happen, and a reader
// proxy overlaying queued-but-uncommitted writes so callers always see
// their own changes.
package index
