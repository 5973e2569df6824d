// Package causallog implements the append-only per-document log of CRDT
// updates and its derived state vector.
//
// The log is payload-agnostic: updates are opaque byte strings tagged
// with (client-id, clock) carried in a fixed binary header prefix (see
// Envelope). Appending an entry already present under its (client-id,
// clock) key is a no-op, which is what makes every downstream delivery
// path idempotent.
//
// Durability is layered on top by the storage engine (WAL segments or
// the Badger KV backend); this package holds the in-memory causal index
// that both backends recover into.
package causallog
