// Package document couples record stores with search indexes: a
// Directory serves one document class, a Volume groups directories
// behind a shared seqno counter and an event bus.
package document
