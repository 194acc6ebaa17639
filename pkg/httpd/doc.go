// Package httpd serves the command registry over HTTP: path segments
// become {document, guid, prop}, the query string becomes request
// arguments, and the reply is JSON unless a command returns a BLOB
// handle, which is streamed. The package also carries the SSE event
// feed, the master push/pull endpoints and the operational endpoints
// (metrics, health).
package httpd
