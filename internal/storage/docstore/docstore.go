// Package docstore binds document ids to their CRDT replicas and causal
// logs, routing updates by the doc-id prefix: "workspace:" documents
// materialize into a workspace CRDT, "body:" documents into a body CRDT.
//
// Both the client sync engine and the relay's per-document actors hold
// a Store; neither ever aliases a CRDT instance directly across
// engines, per the ownership rule that each document is exclusively
// owned by its storage layer.
package docstore

import (
	"strings"
	"sync"

	"github.com/diaryx/syncd/internal/core/domain"
	"github.com/diaryx/syncd/internal/crdt/body"
	"github.com/diaryx/syncd/internal/crdt/workspace"
	"github.com/diaryx/syncd/internal/storage/causallog"
)

// DocKindWorkspace and DocKindBody are the two document id prefixes.
const (
	DocKindWorkspace = "workspace:"
	DocKindBody      = "body:"
)

// WorkspaceDocID builds the document id for a workspace.
func WorkspaceDocID(workspaceID string) string {
	return DocKindWorkspace + workspaceID
}

// BodyDocID builds the document id for one file's body.
func BodyDocID(workspaceID, relativePath string) string {
	return DocKindBody + workspaceID + "/" + relativePath
}

// SplitBodyDocID returns the workspace id and relative path encoded in
// a body document id.
func SplitBodyDocID(docID string) (workspaceID, relativePath string, ok bool) {
	rest, found := strings.CutPrefix(docID, DocKindBody)
	if !found {
		return "", "", false
	}
	wsid, rel, found := strings.Cut(rest, "/")
	if !found {
		return "", "", false
	}
	return wsid, rel, true
}

// Persister is the durable backend hook: every accepted append is
// handed to Persist before Store returns, and recovery replays what
// Persist accepted. The WAL-backed storage engine implements this; a
// nil Persister keeps the store purely in memory (tests, relay
// instances that delegate durability elsewhere).
type Persister interface {
	Persist(docID string, env causallog.Envelope) error
	PersistSnapshot(docID string, snapBytes []byte) error
}

// Store owns the CRDT replicas and causal logs for a set of documents
// sharing one client identity.
type Store struct {
	clientID string
	persist  Persister

	mu         sync.Mutex
	logs       map[string]*causallog.DocLog
	workspaces map[string]*workspace.CRDT
	bodies     map[string]*body.Body
}

// New creates an empty store whose locally-minted updates are tagged
// with clientID.
func New(clientID string, persist Persister) *Store {
	return &Store{
		clientID:   clientID,
		persist:    persist,
		logs:       make(map[string]*causallog.DocLog),
		workspaces: make(map[string]*workspace.CRDT),
		bodies:     make(map[string]*body.Body),
	}
}

// ClientID returns the identity local updates are minted under.
func (s *Store) ClientID() string { return s.clientID }

func (s *Store) log(docID string) *causallog.DocLog {
	l, ok := s.logs[docID]
	if !ok {
		l = causallog.NewDocLog(docID)
		s.logs[docID] = l
	}
	return l
}

// Workspace returns (creating on first use) the workspace CRDT replica
// for docID, which must carry the "workspace:" prefix.
func (s *Store) Workspace(docID string) *workspace.CRDT {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspaceLocked(docID)
}

func (s *Store) workspaceLocked(docID string) *workspace.CRDT {
	c, ok := s.workspaces[docID]
	if !ok {
		c = workspace.New(s.clientID)
		s.workspaces[docID] = c
	}
	return c
}

// Body returns (creating on first use) the body CRDT replica for
// docID, which must carry the "body:" prefix.
func (s *Store) Body(docID string) *body.Body {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bodyLocked(docID)
}

func (s *Store) bodyLocked(docID string) *body.Body {
	b, ok := s.bodies[docID]
	if !ok {
		b = body.New(s.clientID)
		s.bodies[docID] = b
	}
	return b
}

// DocIDs returns every document id the store has a log for.
func (s *Store) DocIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.logs))
	for id := range s.logs {
		out = append(out, id)
	}
	return out
}

// RecordLocal envelopes an update already applied to the local CRDT
// (the CRDT minted its clock when the mutation method produced the
// bytes) and records it in the causal log. Returns the envelope for
// the wire.
func (s *Store) RecordLocal(docID string, update []byte) (causallog.Envelope, error) {
	clientID, clock, err := s.updateInfo(docID, update)
	if err != nil {
		return causallog.Envelope{}, domain.ErrIntegrityViolation.
			WithDetails("local update missing writer tag").WithCause(err)
	}
	env := causallog.Envelope{ClientID: clientID, Clock: clock, Payload: update}

	s.mu.Lock()
	l := s.log(docID)
	s.mu.Unlock()

	if _, err := l.AppendRemote(env); err != nil {
		return causallog.Envelope{}, err
	}
	if s.persist != nil {
		if err := s.persist.Persist(docID, env); err != nil {
			return causallog.Envelope{}, domain.ErrStorageUnavailable.WithCause(err)
		}
	}
	return env, nil
}

func (s *Store) updateInfo(docID string, update []byte) (string, uint64, error) {
	if strings.HasPrefix(docID, DocKindBody) {
		return body.UpdateInfo(update)
	}
	return workspace.UpdateInfo(update)
}

// ApplyRemote merges one envelope received from a peer: the causal log
// absorbs it idempotently, and only a first-time append is replayed
// into the CRDT. Snapshot envelopes compact the log up to the
// snapshot's vector and merge the carried state.
//
// Returns whether the envelope changed anything. A payload that cannot
// be decoded by the target CRDT poisons the document: the error
// unwraps to domain.ErrIntegrityViolation.
func (s *Store) ApplyRemote(docID string, env causallog.Envelope) (bool, error) {
	s.mu.Lock()
	l := s.log(docID)
	s.mu.Unlock()

	if env.Snapshot {
		sd, err := causallog.DecodeSnapshotData(env.Payload)
		if err != nil {
			return false, err
		}
		if err := s.applyState(docID, sd.State); err != nil {
			return false, err
		}
		if err := l.Compact(sd.Vector, sd.State); err != nil {
			return false, err
		}
		if s.persist != nil {
			if err := s.persist.PersistSnapshot(docID, env.Payload); err != nil {
				return false, domain.ErrStorageUnavailable.WithCause(err)
			}
		}
		return true, nil
	}

	applied, err := l.AppendRemote(env)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	if err := s.applyUpdate(docID, env.Payload); err != nil {
		return false, domain.ErrIntegrityViolation.
			WithDetails("undecodable update for " + docID).WithCause(err)
	}
	if s.persist != nil {
		if err := s.persist.Persist(docID, env); err != nil {
			return false, domain.ErrStorageUnavailable.WithCause(err)
		}
	}
	return true, nil
}

func (s *Store) applyUpdate(docID string, payload []byte) error {
	if strings.HasPrefix(docID, DocKindBody) {
		return s.Body(docID).ApplyRemote(payload)
	}
	return s.Workspace(docID).ApplyRemote(payload)
}

func (s *Store) applyState(docID string, state []byte) error {
	if strings.HasPrefix(docID, DocKindBody) {
		return s.Body(docID).ApplySnapshot(state)
	}
	return s.Workspace(docID).ApplySnapshot(state)
}

// Range returns every envelope not covered by from, in causal order.
func (s *Store) Range(docID string, from causallog.StateVector) []causallog.Envelope {
	s.mu.Lock()
	l := s.log(docID)
	s.mu.Unlock()
	return l.Range(from)
}

// StateVector returns the document's current state vector.
func (s *Store) StateVector(docID string) causallog.StateVector {
	s.mu.Lock()
	l := s.log(docID)
	s.mu.Unlock()
	return l.StateVector()
}

// Snapshot produces the document's snapshot payload: its CRDT state
// encoding wrapped with the log's current state vector.
func (s *Store) Snapshot(docID string) ([]byte, error) {
	state, err := s.snapshotState(docID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	l := s.log(docID)
	s.mu.Unlock()
	return l.Snapshot(state)
}

func (s *Store) snapshotState(docID string) ([]byte, error) {
	if strings.HasPrefix(docID, DocKindBody) {
		return s.Body(docID).Snapshot()
	}
	return s.Workspace(docID).Snapshot()
}

// Compact replaces the log prefix covered by upTo with a snapshot of
// the document's current state, bounding log growth.
func (s *Store) Compact(docID string, upTo causallog.StateVector) error {
	state, err := s.snapshotState(docID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	l := s.log(docID)
	s.mu.Unlock()
	if err := l.Compact(upTo, state); err != nil {
		return err
	}
	if s.persist != nil {
		snapBytes, err := causallog.EncodeSnapshotData(upTo, state)
		if err != nil {
			return err
		}
		if err := s.persist.PersistSnapshot(docID, snapBytes); err != nil {
			return domain.ErrStorageUnavailable.WithCause(err)
		}
	}
	return nil
}

// ImportSnapshot replaces the document's log with a single snapshot
// entry (bootstrap path: the archive importer and the engine's
// on-snapshot-imported signal both land here).
func (s *Store) ImportSnapshot(docID string, snapBytes []byte) error {
	sd, err := causallog.DecodeSnapshotData(snapBytes)
	if err != nil {
		return err
	}
	if err := s.applyState(docID, sd.State); err != nil {
		return err
	}
	s.mu.Lock()
	l := s.log(docID)
	s.mu.Unlock()
	if err := l.ApplySnapshot(snapBytes); err != nil {
		return err
	}
	if s.persist != nil {
		if err := s.persist.PersistSnapshot(docID, snapBytes); err != nil {
			return domain.ErrStorageUnavailable.WithCause(err)
		}
	}
	return nil
}
