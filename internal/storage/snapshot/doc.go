// Package snapshot provides durable snapshot files for the storage
// engine.
//
// Snapshots are periodic captures of every document's compact CRDT
// state, enabling faster recovery by reducing WAL replay time.
//
// File format:
//
//	snapshot-<timestamp>-<hash8>.snap   (hash8: 8 hex chars making the name unique)
//	[magic:8 "DXSYSNAP"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[Payload]   (JSON document snapshots, or encrypted bytes)
//	[checksum:32 SHA-256 of all bytes above]
//
// Recovery process:
//
//  1. Load latest valid snapshot
//  2. Replay WAL entries after the snapshot's WAL offset
package snapshot
