package workspace

import "github.com/diaryx/syncd/internal/crdt/rga"

// childList is the ordered-list CRDT backing Record.children. Concurrent
// inserts both survive; concurrent removes commute with inserts;
// duplicates are coalesced on read by dedupedValues. Inserting a name
// that is already listed is not rejected: neither AddChild nor the
// sequence itself checks for it, since the sequence has no notion of
// "name" identity beyond ID.
type childList struct {
	list *rga.Seq[string]
}

func newChildList(clientID string) *childList {
	return &childList{list: rga.New[string](clientID)}
}

// insertAt inserts name so that it lands at visible index pos, anchored
// after the element currently at pos-1 (pos <= 0 inserts at the front;
// pos == list length appends at the end).
func (c *childList) insertAt(pos int, name string) rga.ID {
	parent, _ := c.list.IDAtVisibleIndex(pos - 1)
	if pos <= 0 {
		parent = rga.Zero
	}
	return c.list.LocalInsert(parent, name)
}

// insertAfterID inserts name as a sibling of parentID (used both for
// local appends-after-last and for replaying remote ops where the
// causal parent element, not a position, is what's on the wire).
func (c *childList) insertAfterID(parentID rga.ID, name string) rga.ID {
	return c.list.LocalInsert(parentID, name)
}

func (c *childList) removeName(name string) (rga.ID, bool) {
	for _, id := range c.list.VisibleIDs() {
		n, ok := c.list.Get(id)
		if ok && !n.Deleted && n.Value == name {
			c.list.LocalDelete(id)
			return id, true
		}
	}
	return rga.ID{}, false
}

// lastVisibleID returns the ID of the last visible sibling, or rga.Zero
// if the list is empty, used to anchor an append at the tail.
func (c *childList) lastVisibleID() rga.ID {
	ids := c.list.VisibleIDs()
	if len(ids) == 0 {
		return rga.Zero
	}
	return ids[len(ids)-1]
}

func (c *childList) has(name string) bool {
	for _, v := range c.list.Values() {
		if v == name {
			return true
		}
	}
	return false
}

// dedupedValues returns the visible children with duplicates coalesced,
// keeping the first (earliest-in-sequence-order) occurrence of each
// name, per spec.md: "duplicates are coalesced on read."
func (c *childList) dedupedValues() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range c.list.Values() {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
