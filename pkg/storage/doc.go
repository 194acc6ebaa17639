// Package storage keeps the durable per-document state: one directory
// per GUID holding a small JSON file per property and optional BLOB
// sidecars. Every write is a temp-file rename, so readers never observe
// a half-written property.
package storage
