package workspace

import (
	"encoding/json"

	"github.com/diaryx/syncd/internal/core/domain"
	"github.com/diaryx/syncd/internal/crdt/rga"
)

// snapshotSeqNode is one children-list element, including tombstones,
// in linear sequence order. ParentID anchors it for re-integration.
type snapshotSeqNode struct {
	ID       rga.ID `json:"id"`
	ParentID rga.ID `json:"parent_id"`
	Value    string `json:"value"`
	Deleted  bool   `json:"deleted,omitempty"`
}

type snapshotExtra struct {
	Raw json.RawMessage `json:"raw"`
	By  writer          `json:"by"`
}

type snapshotAttachment struct {
	Ref AttachmentRef `json:"ref"`
	By  writer        `json:"by"`
}

// snapshotRecord carries one Record's complete merge state: the lww
// registers with their winning writers, the children sequence with
// tombstones, and the attachment set including tombstoned refs, so a
// replica reconstructed from a snapshot merges later updates exactly
// as the original would have.
type snapshotRecord struct {
	Title       lww[string]          `json:"title"`
	Parent      lww[string]          `json:"parent"`
	HasParent   lww[bool]            `json:"has_parent"`
	Description lww[string]          `json:"description"`
	Audiences   map[string]lww[bool] `json:"audiences,omitempty"`
	Extra       map[string]snapshotExtra `json:"extra,omitempty"`
	Tombstoned  lww[bool]            `json:"tombstoned"`
	ModifiedAt  lww[int64]           `json:"modified_at"`

	HasChildren bool                 `json:"has_children,omitempty"`
	Children    []snapshotSeqNode    `json:"children,omitempty"`
	Attachments []snapshotAttachment `json:"attachments,omitempty"`
}

type snapshotState struct {
	Records map[string]snapshotRecord `json:"records"`
}

// Snapshot encodes the CRDT's complete current state, compactly enough
// to stand in for the log prefix that produced it.
func (c *CRDT) Snapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := snapshotState{Records: make(map[string]snapshotRecord)}
	for _, path := range c.records.Keys() {
		r, ok := c.records.Get(path)
		if !ok {
			continue
		}
		sr := snapshotRecord{
			Title:       r.title,
			Parent:      r.parent,
			HasParent:   r.hasParent,
			Description: r.description,
			Tombstoned:  r.tombstoned,
			ModifiedAt:  r.modifiedAt,
		}
		if len(r.audiences) > 0 {
			sr.Audiences = make(map[string]lww[bool], len(r.audiences))
			for tag, reg := range r.audiences {
				sr.Audiences[tag] = reg
			}
		}
		if len(r.extra) > 0 {
			sr.Extra = make(map[string]snapshotExtra, len(r.extra))
			for k, ev := range r.extra {
				sr.Extra[k] = snapshotExtra{Raw: ev.Raw, By: ev.by}
			}
		}
		if r.children != nil {
			sr.HasChildren = true
			for _, n := range r.children.list.All() {
				sr.Children = append(sr.Children, snapshotSeqNode{
					ID: n.ID, ParentID: n.ParentID, Value: n.Value, Deleted: n.Deleted,
				})
			}
		}
		if r.attachments != nil {
			for _, ref := range r.attachments.all() {
				by := ref.by
				sr.Attachments = append(sr.Attachments, snapshotAttachment{Ref: ref, By: by})
			}
		}
		st.Records[path] = sr
	}

	b, err := json.Marshal(st)
	if err != nil {
		return nil, domain.ErrIntegrityViolation.WithDetails("encode workspace snapshot").WithCause(err)
	}
	return b, nil
}

// ApplySnapshot merges a snapshot produced by Snapshot into this
// replica. Applying onto an empty replica reconstructs the source
// state exactly; applying onto a diverged replica merges field-wise
// under the usual last-writer-wins and sequence rules, so a snapshot
// covering updates the replica already has is a no-op.
func (c *CRDT) ApplySnapshot(state []byte) error {
	var st snapshotState
	if err := json.Unmarshal(state, &st); err != nil {
		return domain.ErrIntegrityViolation.WithDetails("decode workspace snapshot").WithCause(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events.begin()
	defer c.events.end()

	for path, sr := range st.Records {
		_, existed := c.records.Get(path)
		r := c.getOrCreate(path)

		mergeLWW(&r.title, sr.Title)
		mergeLWW(&r.parent, sr.Parent)
		mergeLWW(&r.hasParent, sr.HasParent)
		mergeLWW(&r.description, sr.Description)
		mergeLWW(&r.tombstoned, sr.Tombstoned)
		mergeLWW(&r.modifiedAt, sr.ModifiedAt)
		c.bumpClock(sr.Title.By, sr.Parent.By, sr.Tombstoned.By, sr.ModifiedAt.By)

		for tag, reg := range sr.Audiences {
			cur := r.audiences[tag]
			mergeLWW(&cur, reg)
			r.audiences[tag] = cur
			c.bumpClock(reg.By)
		}
		for k, ev := range sr.Extra {
			cur, ok := r.extra[k]
			if !ok || cur.by.wins(ev.By) {
				r.extra[k] = ExtraValue{Raw: ev.Raw, by: ev.By}
			}
			c.bumpClock(ev.By)
		}

		if sr.HasChildren {
			if r.children == nil {
				r.children = newChildList(c.clientID)
			}
			for _, n := range sr.Children {
				r.children.list.Integrate(n.ID, n.ParentID, n.Value, n.Deleted)
				if n.ID.ClientID == c.clientID {
					r.children.list.Bump(n.ID.Clock)
				}
			}
		}
		for _, sa := range sr.Attachments {
			if r.attachments == nil {
				r.attachments = newAttachmentSet()
			}
			r.attachments.put(sa.Ref, sa.By)
			c.bumpClock(sa.By)
		}

		if existed {
			c.events.emit(Event{Kind: EventMetadataChanged, Path: path})
		} else {
			c.events.emit(Event{Kind: EventFileCreated, Path: path})
		}
	}
	return nil
}

// mergeLWW folds a snapshotted register into dst under the normal
// last-writer-wins tiebreak. An unset source register is skipped so it
// can't clobber a live local value with a zero writer.
func mergeLWW[T any](dst *lww[T], src lww[T]) {
	if !src.Set && src.By == (writer{}) {
		return
	}
	if !dst.Set && dst.By == (writer{}) {
		*dst = src
		return
	}
	if dst.By.wins(src.By) {
		*dst = src
	}
}

// bumpClock advances the local clock past any snapshotted writer owned
// by this client, so post-import local writes never reuse a clock.
func (c *CRDT) bumpClock(writers ...writer) {
	for _, w := range writers {
		if w.ClientID == c.clientID && w.Clock > c.clock {
			c.clock = w.Clock
		}
	}
}
