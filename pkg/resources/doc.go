// Package resources defines the stock document classes a node serves:
// users, activity contexts, implementations and the feedback loop
// around them. Index prefixes and sort slots are part of the on-disk
// layout and must stay stable across releases.
package resources
