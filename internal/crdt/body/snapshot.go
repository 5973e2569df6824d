package body

import (
	"encoding/json"

	"github.com/diaryx/syncd/internal/core/domain"
	"github.com/diaryx/syncd/internal/crdt/rga"
)

type snapshotChar struct {
	ID       rga.ID `json:"id"`
	ParentID rga.ID `json:"parent_id"`
	Value    rune   `json:"value"`
	Deleted  bool   `json:"deleted,omitempty"`
}

type snapshotMark struct {
	Char   rga.ID `json:"char"`
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
	By     writer `json:"by"`
}

type snapshotState struct {
	Chars []snapshotChar `json:"chars"`
	Marks []snapshotMark `json:"marks,omitempty"`
}

// Snapshot encodes the body's complete current state, including
// tombstoned characters and mark registers, compactly enough to stand
// in for the log prefix that produced it.
func (b *Body) Snapshot() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var st snapshotState
	for _, n := range b.seq.All() {
		st.Chars = append(st.Chars, snapshotChar{
			ID: n.ID, ParentID: n.ParentID, Value: n.Value, Deleted: n.Deleted,
		})
		for kind, ms := range b.marks.byChar[n.ID] {
			if !ms.set {
				continue
			}
			st.Marks = append(st.Marks, snapshotMark{
				Char: n.ID, Kind: kind, Active: ms.active, By: ms.by,
			})
		}
	}

	out, err := json.Marshal(st)
	if err != nil {
		return nil, domain.ErrIntegrityViolation.WithDetails("encode body snapshot").WithCause(err)
	}
	return out, nil
}

// ApplySnapshot merges a snapshot produced by Snapshot into this
// replica. Characters integrate idempotently under their stable ids;
// mark registers merge last-writer-wins, so a snapshot covering
// updates the replica already has is a no-op.
func (b *Body) ApplySnapshot(state []byte) error {
	var st snapshotState
	if err := json.Unmarshal(state, &st); err != nil {
		return domain.ErrIntegrityViolation.WithDetails("decode body snapshot").WithCause(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range st.Chars {
		b.seq.Integrate(ch.ID, ch.ParentID, ch.Value, ch.Deleted)
		if ch.ID.ClientID == b.clientID {
			b.seq.Bump(ch.ID.Clock)
		}
	}
	for _, m := range st.Marks {
		b.marks.put(m.Char, m.Kind, m.Active, m.By)
		if m.By.ClientID == b.clientID && m.By.Clock > b.clock {
			b.clock = m.By.Clock
		}
	}
	return nil
}
