// Package wal provides Write-Ahead Logging for durability.
//
// WAL ensures data durability by writing causal-log entries to disk
// before acknowledging them, enabling recovery after crashes.
//
// Features:
//
//   - Batched Writes: Configurable batch size and sync interval
//   - File Rotation: Automatic rotation at configurable file sizes
//   - Encryption: Optional encryption using adaptive ciphers
//   - Compaction: Automatic cleanup of old WAL files after snapshots
//   - Recovery: Sequential replay for crash recovery
//
// Entry Types:
//
//   - UPDATE: One CRDT update tagged (doc-id, client-id, clock)
//   - SNAPSHOT: A compact document state replacing a log prefix
//
// Format:
//
//	wal-<segment-id>.log
//	[magic:8 "DXSYWAL\x01"]
//	[Entry]*
//	[checksum:32 SHA-256 of all bytes above] (absent on the active segment)
//
// Entry wire format:
//
//	[Length:4][CRC32:4][Type:1][Payload:Length-5]
//
// Where:
//   - Length = CRC32 + Type + Payload (big-endian uint32)
//   - CRC32 covers Type+Payload (IEEE)
//   - Payload is JSON (the update bytes optionally encrypted)
package wal
