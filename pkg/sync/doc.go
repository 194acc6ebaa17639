// Package sync moves document diffs between nodes. The master side
// ingests push packets and serves resumable pull packets keyed by a
// client cookie; the satellite side is a directory-driven state
// machine for offline exchange. Both share the volume diff and merge
// plumbing and the packet codec.
package sync
