// Package httpserver provides the HTTP/HTTPS server for the sync relay.
//
// This package implements the primary external API using stdlib net/http:
//
//   - Sync endpoint: /sync2 (WebSocket upgrade)
//   - Snapshot endpoints: GET/POST /api/workspaces/{id}/snapshot
//   - Admin endpoints: /admin/v1/* and the relay-to-relay admin RPC
//   - Health endpoints: /health, /ready, /metrics
//
// Features:
//
//   - TLS via ListenAndServeTLS and WithTLSConfig; certificates are
//     loaded once and not reloaded while the server runs
//   - Middleware chain: Auth, RateLimit, Audit, RequestID
//   - Graceful shutdown with configurable timeout
//   - Prometheus metrics integration
package httpserver
