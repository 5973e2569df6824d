// Package handler provides HTTP request handlers for the relay.
//
// This package contains handlers for all HTTP endpoints:
//
//   - sync.go: the /sync2 WebSocket upgrade and session pumps
//   - snapshot.go: workspace archive download/upload
//   - admin.go: administrative operations (status, gc, snapshots)
//   - health.go: health and readiness checks
//
// All handlers follow a consistent pattern:
//
//   - Parse and validate request
//   - Call the relay hub / storage engine
//   - Format and return response
//   - Handle errors with appropriate HTTP status codes
package handler
