// Package wal provides Write-Ahead Logging for durability.
package wal

import "errors"

// File format constants.
const (
	// DefaultFileExtension is the WAL file extension.
	DefaultFileExtension = ".log"

	// headerSize is the size of entry header: length (4) + crc (4) = 8 bytes.
	headerSize = 8

	// minEntrySize is the minimum entry size: header (8) + type (1).
	minEntrySize = headerSize + 1
)

// Errors for WAL operations.
var (
	ErrCorruptedEntry   = errors.New("wal: corrupted entry")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrInvalidEntryType = errors.New("wal: invalid entry type")
)

// OpType distinguishes a causal-log update entry from a snapshot entry
// that replaces a log prefix (see Compact in compactor.go).
type OpType uint8

const (
	OpTypeUnspecified OpType = iota
	OpTypeUpdate
	OpTypeSnapshot
)

// Entry is one durable record in a document's causal log: an opaque CRDT
// update (or a compacting snapshot) tagged with the (client, clock) pair
// the append algorithm uses for idempotency and state-vector derivation.
//
// Timestamp uses Unix milliseconds.
type Entry struct {
	OpType    OpType
	Timestamp int64
	DocID     string
	ClientID  string
	Clock     uint64
	Update    []byte
}

// NewUpdateEntry creates an update entry carrying opaque CRDT bytes for
// (docID, clientID) at the given logical clock value.
func NewUpdateEntry(docID, clientID string, clock uint64, update []byte, nowMillis int64) *Entry {
	return &Entry{
		OpType:    OpTypeUpdate,
		Timestamp: nowMillis,
		DocID:     docID,
		ClientID:  clientID,
		Clock:     clock,
		Update:    update,
	}
}

// NewSnapshotEntry creates a snapshot entry that, once appended, is
// equivalent to every update entry it replaces during compaction. The
// payload is the causal log's snapshot encoding (state vector plus
// compact CRDT state).
func NewSnapshotEntry(docID string, payload []byte, nowMillis int64) *Entry {
	return &Entry{
		OpType:    OpTypeSnapshot,
		Timestamp: nowMillis,
		DocID:     docID,
		Update:    payload,
	}
}
