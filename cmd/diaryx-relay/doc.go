// Package main provides the entry point for diaryx-relay.
//
// The relay is the workspace sync authority that provides:
//
//   - The /sync2 WebSocket endpoint multiplexing CRDT updates among
//     connected devices, with per-document causal logs behind it
//   - HTTP snapshot transfer for bootstrapping new devices without
//     streaming the full log
//   - An admin API for operators (status, GC, durable snapshots)
//   - Optional gossip discovery for multi-relay deployments
//
// Usage:
//
//	diaryx-relay [flags]
//	diaryx-relay --config /path/to/config.yaml
//
// The relay loads configuration, provisions per-workspace storage on
// demand, and serves until signalled.
package main
