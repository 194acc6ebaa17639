// Package sequence implements ordered sets of seqno ranges used to
// track which changes a peer has seen. Sequences serialize to the
// [[start, end|null], ...] JSON form carried in packets and cookies.
package sequence
