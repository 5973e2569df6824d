package body

import (
	"sort"
	"sync"

	"github.com/diaryx/syncd/internal/crdt/rga"
	"github.com/diaryx/syncd/internal/core/domain"
)

// Body is the per-file body CRDT: an ordered sequence of characters
// identified by stable ids (not integer positions) plus interval marks
// layered on top. One Body is bound to a single document and a single
// local client identity.
type Body struct {
	mu       sync.Mutex
	clientID string
	clock    uint64
	seq      *rga.Seq[rune]
	marks    *markRegistry
}

// New creates an empty body CRDT owned by clientID.
func New(clientID string) *Body {
	return &Body{
		clientID: clientID,
		seq:      rga.New[rune](clientID),
		marks:    newMarkRegistry(),
	}
}

func (b *Body) nextWriter() writer {
	b.clock++
	return writer{ClientID: b.clientID, Clock: b.clock}
}

// visibleIDRange returns the ids of the length visible characters
// starting at position, or an error if the range isn't fully in bounds.
func (b *Body) visibleIDRange(position, length int) ([]rga.ID, error) {
	if position < 0 || length < 0 {
		return nil, domain.ErrPositionOutOfRange
	}
	if length == 0 {
		return nil, nil
	}
	ids := b.seq.VisibleIDs()
	if position+length > len(ids) {
		return nil, domain.ErrPositionOutOfRange
	}
	return ids[position : position+length], nil
}

// Insert splices text in at position (a visible-character offset),
// returning the encoded update to hand to the causal log.
func (b *Body) Insert(position int, text string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	runes := []rune(text)
	by := b.nextWriter()

	if position < 0 {
		return nil, domain.ErrPositionOutOfRange
	}
	anchor := rga.Zero
	if position > 0 {
		id, ok := b.seq.IDAtVisibleIndex(position - 1)
		if !ok {
			return nil, domain.ErrPositionOutOfRange
		}
		anchor = id
	}

	inserts := make([]charInsert, 0, len(runes))
	cur := anchor
	for _, r := range runes {
		id := b.seq.LocalInsert(cur, r)
		inserts = append(inserts, charInsert{ID: id, ParentID: cur, Value: r})
		cur = id
	}

	o := op{Kind: opInsert, By: by, Inserts: inserts}
	return encodeOp(o)
}

// Delete tombstones the length visible characters starting at position.
func (b *Body) Delete(position, length int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	by := b.nextWriter()
	ids, err := b.visibleIDRange(position, length)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		b.seq.LocalDelete(id)
	}

	o := op{Kind: opDelete, By: by, DeleteIDs: ids}
	return encodeOp(o)
}

// SetMark activates kind over the visible characters in [start, end).
func (b *Body) SetMark(start, end int, kind string) ([]byte, error) {
	return b.markRange(start, end, kind, true)
}

// ClearMark deactivates kind over the visible characters in [start, end).
func (b *Body) ClearMark(start, end int, kind string) ([]byte, error) {
	return b.markRange(start, end, kind, false)
}

func (b *Body) markRange(start, end int, kind string, active bool) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if end < start {
		return nil, domain.ErrPositionOutOfRange
	}
	ids, err := b.visibleIDRange(start, end-start)
	if err != nil {
		return nil, err
	}

	by := b.nextWriter()
	for _, id := range ids {
		b.marks.put(id, kind, active, by)
	}

	k := opSetMark
	if !active {
		k = opClearMark
	}
	o := op{Kind: k, By: by, MarkIDs: ids, MarkKind: kind}
	return encodeOp(o)
}

// AsString materializes the current visible text.
func (b *Body) AsString() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.seq.Values())
}

// Length returns the number of visible characters.
func (b *Body) Length() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq.Len()
}

// MarkRun is one contiguous run of visible text sharing the same set of
// active mark kinds.
type MarkRun struct {
	Start int
	End   int
	Kinds []string
}

// Render returns the visible text alongside the contiguous mark runs
// covering it. Characters whose covering mark was cleared, or that
// were deleted (splitting what was once one marked range), simply
// don't appear as part of any run — this is the "clip" behavior for
// marks over a splitting delete.
func (b *Body) Render() (string, []MarkRun) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var runs []MarkRun
	var text []rune
	var curKinds []string
	runStart := -1

	flush := func(end int) {
		if runStart >= 0 && len(curKinds) > 0 {
			runs = append(runs, MarkRun{Start: runStart, End: end, Kinds: curKinds})
		}
		runStart = -1
		curKinds = nil
	}

	idx := 0
	for _, n := range b.seq.All() {
		if n.Deleted {
			continue
		}
		text = append(text, n.Value)
		kinds := b.marks.activeKinds(n.ID)
		sort.Strings(kinds)
		if !sameKinds(kinds, curKinds) {
			flush(idx)
			if len(kinds) > 0 {
				runStart = idx
				curKinds = kinds
			}
		}
		idx++
	}
	flush(idx)

	return string(text), runs
}

func sameKinds(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ApplyRemote decodes and merges an update produced by (and received
// from) a peer replica.
func (b *Body) ApplyRemote(update []byte) error {
	o, err := decodeOp(update)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if o.By.Clock > b.clock && o.By.ClientID == b.clientID {
		b.clock = o.By.Clock
	}

	switch o.Kind {
	case opInsert:
		for _, ci := range o.Inserts {
			b.seq.Integrate(ci.ID, ci.ParentID, ci.Value, false)
		}
	case opDelete:
		for _, id := range o.DeleteIDs {
			b.seq.LocalDelete(id)
		}
	case opSetMark:
		for _, id := range o.MarkIDs {
			b.marks.put(id, o.MarkKind, true, o.By)
		}
	case opClearMark:
		for _, id := range o.MarkIDs {
			b.marks.put(id, o.MarkKind, false, o.By)
		}
	default:
		return domain.NewDomainError("DX-BODY-4001", "unknown body op kind").WithDetails(string(o.Kind))
	}
	return nil
}
