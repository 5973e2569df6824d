package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/diaryx/syncd/internal/storage/causallog"
	"github.com/diaryx/syncd/internal/storage/docstore"
)

// Key layout for the Badger-backed causal log:
//
//	l/<doc-id>\x00<client-id>\x00<clock BE>  -> update payload
//	s/<doc-id>                               -> snapshot payload
//
// The \x00 separators are safe: doc ids are ASCII and client ids are
// ULID-derived, neither contains NUL.
const (
	badgerLogPrefix  = "l/"
	badgerSnapPrefix = "s/"
)

func badgerLogKey(docID, clientID string, clock uint64) []byte {
	key := make([]byte, 0, len(badgerLogPrefix)+len(docID)+1+len(clientID)+1+8)
	key = append(key, badgerLogPrefix...)
	key = append(key, docID...)
	key = append(key, 0)
	key = append(key, clientID...)
	key = append(key, 0)
	var clk [8]byte
	binary.BigEndian.PutUint64(clk[:], clock)
	return append(key, clk[:]...)
}

// BadgerPersister implements docstore.Persister on a Badger KV engine,
// the production backend for relay deployments where one process hosts
// many workspaces and segment-file-per-workspace WALs would multiply
// file handles.
type BadgerPersister struct {
	kv     KVEngine
	logger *slog.Logger
}

// NewBadgerPersister wraps kv as a causal-log persistence backend.
func NewBadgerPersister(kv KVEngine, logger *slog.Logger) *BadgerPersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerPersister{kv: kv, logger: logger}
}

// Persist implements docstore.Persister.
func (p *BadgerPersister) Persist(docID string, env causallog.Envelope) error {
	return p.kv.Set(context.Background(), badgerLogKey(docID, env.ClientID, env.Clock), env.Payload)
}

// PersistSnapshot implements docstore.Persister. The snapshot replaces
// the document's persisted entry prefix: entries covered by the
// snapshot's vector are deleted so the keyspace stays bounded.
func (p *BadgerPersister) PersistSnapshot(docID string, snapBytes []byte) error {
	ctx := context.Background()
	if err := p.kv.Set(ctx, []byte(badgerSnapPrefix+docID), snapBytes); err != nil {
		return err
	}

	sd, err := causallog.DecodeSnapshotData(snapBytes)
	if err != nil {
		return err
	}

	prefix := []byte(badgerLogPrefix + docID + "\x00")
	var stale [][]byte
	scanErr := p.kv.Scan(ctx, prefix, func(key, _ []byte) bool {
		clientID, clock, ok := splitBadgerLogKey(key, len(prefix))
		if ok && sd.Vector.Covers(clientID, clock) {
			k := make([]byte, len(key))
			copy(k, key)
			stale = append(stale, k)
		}
		return true
	})
	if scanErr != nil {
		return scanErr
	}
	for _, key := range stale {
		if err := p.kv.Delete(ctx, key); err != nil {
			p.logger.Warn("delete compacted entry failed", "doc_id", docID, "error", err)
		}
	}
	return nil
}

func splitBadgerLogKey(key []byte, suffixStart int) (clientID string, clock uint64, ok bool) {
	rest := key[suffixStart:]
	// rest = <client-id>\x00<clock BE>
	if len(rest) < 9 {
		return "", 0, false
	}
	sep := len(rest) - 9
	if rest[sep] != 0 {
		return "", 0, false
	}
	return string(rest[:sep]), binary.BigEndian.Uint64(rest[sep+1:]), true
}

// Recover replays every persisted snapshot and entry into store.
// Snapshots load first so covered entries no-op during the scan.
func (p *BadgerPersister) Recover(ctx context.Context, store *docstore.Store) error {
	var firstErr error

	err := p.kv.Scan(ctx, []byte(badgerSnapPrefix), func(key, value []byte) bool {
		docID := string(key[len(badgerSnapPrefix):])
		if err := store.ImportSnapshot(docID, value); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("storage: recover snapshot %s: %w", docID, err)
		}
		return true
	})
	if err != nil {
		return err
	}
	if firstErr != nil {
		return firstErr
	}

	err = p.kv.Scan(ctx, []byte(badgerLogPrefix), func(key, value []byte) bool {
		docID, clientID, clock, ok := parseBadgerLogKey(key)
		if !ok {
			p.logger.Warn("skipping malformed log key", "key", string(key))
			return true
		}
		env := causallog.Envelope{ClientID: clientID, Clock: clock, Payload: value}
		if _, err := store.ApplyRemote(docID, env); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("storage: recover entry %s: %w", docID, err)
		}
		return true
	})
	if err != nil {
		return err
	}
	return firstErr
}

func parseBadgerLogKey(key []byte) (docID, clientID string, clock uint64, ok bool) {
	rest := key[len(badgerLogPrefix):]
	if len(rest) < 10 {
		return "", "", 0, false
	}
	// <doc-id>\x00<client-id>\x00<clock BE>
	clock = binary.BigEndian.Uint64(rest[len(rest)-8:])
	if rest[len(rest)-9] != 0 {
		return "", "", 0, false
	}
	head := rest[:len(rest)-9]
	for i := 0; i < len(head); i++ {
		if head[i] == 0 {
			return string(head[:i]), string(head[i+1:]), clock, true
		}
	}
	return "", "", 0, false
}
