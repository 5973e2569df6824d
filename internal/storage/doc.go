// Package storage provides the durable storage engine for the sync
// core.
//
// The storage engine combines the in-memory document store (CRDT
// replicas plus causal logs), a WAL, and snapshots to provide durable,
// crash-recoverable workspace storage.
//
// Architecture:
//
//   - Document store: CRDT replicas and per-document causal logs
//   - WAL: write-ahead logging for durability and crash recovery
//   - Snapshot: periodic state captures for faster recovery
//
// The engine supports:
//
//   - Durability: every accepted append is logged before acknowledgment
//   - Recovery: automatic recovery from WAL and snapshots on startup
//   - Encryption: optional at-rest encryption using adaptive ciphers
package storage
