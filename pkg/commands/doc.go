// Package commands routes external operations: a Request envelope is
// resolved against a four-scope registry (volume, directory, document,
// property), gated by access bits and argument typecasts, and the
// handler result lands in a Response.
package commands
