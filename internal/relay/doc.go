// Package relay implements the sync relay server: one actor per
// workspace owning the authoritative causal logs, the set of connected
// sessions, and the per-session focus maps that gate body-document
// forwarding.
//
// Messages to an actor are serialized through its mailbox; actors for
// different workspaces run in parallel. An update is broadcast only
// after it is durably appended, and per-session outbound queues are
// bounded: a session that cannot drain its backlog is closed with a
// retriable code rather than allowed to stall its peers.
package relay
