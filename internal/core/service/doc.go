// Package service provides the client-side sync runtime.
//
// SyncRuntime is the single host-owned value that replaces what would
// otherwise be global module state (server URL, credentials, session
// table): per-workspace state lives inside a WorkspaceSession
// addressed by workspace id, and the runtime owns their lifecycle.
//
// Each WorkspaceSession wires together the pieces a device needs to
// sync one workspace: durable storage (WAL-backed causal logs under
// <workspace>/.diaryx/), the pure sync engine, and the transport
// adapter that owns the socket.
package service
