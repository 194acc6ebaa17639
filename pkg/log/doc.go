// Package log provides structured logging using zerolog.
//
// The package wraps zerolog to provide JSON-structured logging with
// component-specific child loggers, configurable log levels, and helper
// functions for common logging patterns. Call Init once at startup, then
// derive child loggers with WithComponent, WithDocument or WithGUID.
package log
