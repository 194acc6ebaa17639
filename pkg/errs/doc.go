// Package errs defines the error kinds shared by the storage engine,
// the command dispatcher and the HTTP frontend.
package errs
