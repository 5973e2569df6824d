package causallog

import (
	"encoding/json"
	"sync"

	"github.com/diaryx/syncd/internal/core/domain"
)

// SnapshotData is the payload of a Snapshot envelope: a compact
// CRDT-type-specific state encoding plus the state vector it is
// equivalent to. Merging the snapshot with any set of updates covered
// by Vector is a no-op.
type SnapshotData struct {
	Vector StateVector `json:"vector"`
	State  []byte      `json:"state"`
}

// EncodeSnapshotData serializes a snapshot payload.
func EncodeSnapshotData(sv StateVector, state []byte) ([]byte, error) {
	b, err := json.Marshal(SnapshotData{Vector: sv, State: state})
	if err != nil {
		return nil, domain.ErrIntegrityViolation.WithDetails("encode snapshot").WithCause(err)
	}
	return b, nil
}

// DecodeSnapshotData is the inverse of EncodeSnapshotData.
func DecodeSnapshotData(b []byte) (SnapshotData, error) {
	var sd SnapshotData
	if err := json.Unmarshal(b, &sd); err != nil {
		return SnapshotData{}, domain.ErrIntegrityViolation.WithDetails("decode snapshot").WithCause(err)
	}
	if sd.Vector == nil {
		sd.Vector = StateVector{}
	}
	return sd, nil
}

type entryKey struct {
	clientID string
	clock    uint64
}

// DocLog is the in-memory causal index for one document: entries in
// append order, an idempotency set keyed by (client-id, clock), the
// derived state vector, and at most one snapshot envelope standing in
// for a compacted prefix.
//
// DocLog itself is not durable; the storage engine persists every
// accepted append to its backend and rebuilds DocLogs on recovery.
type DocLog struct {
	mu      sync.RWMutex
	docID   string
	entries []Envelope
	present map[entryKey]struct{}
	sv      StateVector

	snap   *Envelope
	snapSV StateVector
}

// NewDocLog creates an empty log for docID.
func NewDocLog(docID string) *DocLog {
	return &DocLog{
		docID:   docID,
		present: make(map[entryKey]struct{}),
		sv:      StateVector{},
		snapSV:  StateVector{},
	}
}

// DocID returns the document this log belongs to.
func (l *DocLog) DocID() string { return l.docID }

// Append assigns the next logical clock for clientID, records the
// update, and returns the recorded envelope (which carries that clock).
func (l *DocLog) Append(clientID string, payload []byte) (Envelope, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	clock := l.sv[clientID] + 1
	env := Envelope{ClientID: clientID, Clock: clock, Payload: payload}
	l.appendLocked(env)
	return env, nil
}

// AppendRemote records an envelope received from a peer. Returns false
// (and does nothing) if (client-id, clock) is already present.
func (l *DocLog) AppendRemote(env Envelope) (bool, error) {
	if env.Snapshot {
		return false, domain.ErrInvalidArgument.WithDetails("snapshot envelope on AppendRemote")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := entryKey{env.ClientID, env.Clock}
	if _, dup := l.present[k]; dup {
		return false, nil
	}
	if l.sv.Covers(env.ClientID, env.Clock) {
		// Covered by a compacted prefix or snapshot.
		return false, nil
	}
	l.appendLocked(env)
	return true, nil
}

func (l *DocLog) appendLocked(env Envelope) {
	l.entries = append(l.entries, env)
	l.present[entryKey{env.ClientID, env.Clock}] = struct{}{}
	l.sv.Observe(env.ClientID, env.Clock)
}

// StateVector returns a copy of the derived state vector.
func (l *DocLog) StateVector() StateVector {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sv.Clone()
}

// Range returns every entry not covered by from, in append order (which
// is compatible with the CRDTs' causal-delivery requirement: a local
// entry is always appended after everything it causally depends on, and
// remote entries are appended in per-socket receive order). If from
// does not dominate a compacted prefix, the standing snapshot envelope
// is returned first so the receiver can bootstrap past the gap.
func (l *DocLog) Range(from StateVector) []Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Envelope
	if l.snap != nil && !from.Dominates(l.snapSV) {
		out = append(out, *l.snap)
	}
	for _, e := range l.entries {
		if !from.Covers(e.ClientID, e.Clock) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of live (non-compacted) entries.
func (l *DocLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot wraps the caller-supplied compact state encoding together
// with the log's current state vector into a snapshot payload.
func (l *DocLog) Snapshot(state []byte) ([]byte, error) {
	l.mu.RLock()
	sv := l.sv.Clone()
	l.mu.RUnlock()
	return EncodeSnapshotData(sv, state)
}

// ApplySnapshot replaces the whole log with a single snapshot entry and
// sets the state vector to the snapshot's.
func (l *DocLog) ApplySnapshot(snapBytes []byte) error {
	sd, err := DecodeSnapshotData(snapBytes)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	env := Envelope{Snapshot: true, Payload: snapBytes}
	l.snap = &env
	l.snapSV = sd.Vector.Clone()
	l.entries = nil
	l.present = make(map[entryKey]struct{})
	l.sv = sd.Vector.Clone()
	return nil
}

// Compact replaces the prefix of entries covered by upTo with a single
// snapshot entry carrying the caller-supplied state encoding, bounding
// log size. Entries not covered by upTo are retained.
func (l *DocLog) Compact(upTo StateVector, state []byte) error {
	snapBytes, err := EncodeSnapshotData(upTo.Clone(), state)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []Envelope
	present := make(map[entryKey]struct{})
	for _, e := range l.entries {
		if upTo.Covers(e.ClientID, e.Clock) {
			continue
		}
		kept = append(kept, e)
		present[entryKey{e.ClientID, e.Clock}] = struct{}{}
	}

	env := Envelope{Snapshot: true, Payload: snapBytes}
	l.snap = &env
	l.snapSV = upTo.Clone()
	l.entries = kept
	l.present = present
	l.sv.Merge(upTo)
	return nil
}

// SnapshotEnvelope returns the standing snapshot entry, if any.
func (l *DocLog) SnapshotEnvelope() (Envelope, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.snap == nil {
		return Envelope{}, false
	}
	return *l.snap, true
}
