// Package node exposes the volume over the command registry: CRUD and
// find for every document class, node info, and the author
// bookkeeping stamped on writes.
package node
