package workspace

import (
	"strings"
	"sync"

	"github.com/diaryx/syncd/internal/core/domain"
	"github.com/diaryx/syncd/pkg/cmap"
)

// CRDT is the Workspace CRDT: a map from file path to Record, each field
// of which merges independently. One CRDT instance is bound to a single
// document (a workspace) and a single local client identity; updates
// produced locally and updates received from peers both flow through
// Apply/ApplyRemote so the merge logic only has to be written once.
type CRDT struct {
	mu       sync.Mutex
	clientID string
	clock    uint64
	records  *cmap.Map[string, *Record]
	events   *eventBus
}

// New creates an empty Workspace CRDT owned by clientID.
func New(clientID string) *CRDT {
	return &CRDT{
		clientID: clientID,
		records:  cmap.New[string, *Record](),
		events:   newEventBus(),
	}
}

// Subscribe registers fn to receive events raised by local and remote
// operations. Events raised while an Apply/ApplyRemote call is in
// flight are queued and delivered only once that call returns, so
// handlers never observe a partially-merged op.
func (c *CRDT) Subscribe(fn func(Event)) {
	c.events.Subscribe(fn)
}

func (c *CRDT) nextWriter() writer {
	c.clock++
	return writer{ClientID: c.clientID, Clock: c.clock}
}

func (c *CRDT) getOrCreate(path string) *Record {
	if r, ok := c.records.Get(path); ok {
		return r
	}
	r := newRecord()
	c.records.Set(path, r)
	return r
}

func (c *CRDT) getIfExists(path string) *Record {
	r, ok := c.records.Get(path)
	if !ok {
		return nil
	}
	return r
}

func baseName(p string) string {
	p = strings.TrimRight(p, "/")
	if idx := strings.LastIndexByte(p, '/'); idx >= 0 {
		return p[idx+1:]
	}
	return p
}

// Get returns the materialized view of path, or false if no record has
// ever been written there.
func (c *CRDT) Get(path string) (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.records.Get(path)
	if !ok {
		return View{}, false
	}
	return r.view(path), true
}

// Iter calls fn for every known record, including tombstoned ones, in
// unspecified order. fn returning false stops iteration.
func (c *CRDT) Iter(fn func(View) bool) {
	c.mu.Lock()
	paths := c.records.Keys()
	c.mu.Unlock()
	for _, p := range paths {
		v, ok := c.Get(p)
		if ok && !fn(v) {
			return
		}
	}
}

// Put merges delta into the record at path. Fields left nil/false in
// delta are untouched. Returns the encoded update to hand to the
// causal log.
func (c *CRDT) Put(path string, delta RecordDelta) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	by := c.nextWriter()
	o := op{Kind: opPut, By: by, Path: path, Delta: &delta}
	c.events.begin()
	c.applyPut(o)
	c.events.end()
	return encodeOp(o)
}

func (c *CRDT) applyPut(o op) {
	_, existed := c.records.Get(o.Path)
	r := c.getOrCreate(o.Path)
	d := o.Delta
	if d == nil {
		return
	}

	if d.ClearTitle {
		r.title.clear(o.By)
	} else if d.Title != nil {
		r.title.apply(*d.Title, o.By)
	}

	if d.ClearParent {
		r.parent.clear(o.By)
		r.hasParent.apply(false, o.By)
	} else if d.Parent != nil {
		r.parent.apply(*d.Parent, o.By)
		r.hasParent.apply(true, o.By)
	}

	if d.MakeContainer && r.children == nil {
		r.children = newChildList(c.clientID)
	}

	if d.ClearDescription {
		r.description.clear(o.By)
	} else if d.Description != nil {
		r.description.apply(*d.Description, o.By)
	}

	for tag, val := range d.Audiences {
		reg := r.audiences[tag]
		reg.apply(val, o.By)
		r.audiences[tag] = reg
	}

	for k, raw := range d.Extra {
		cur, ok := r.extra[k]
		if !ok || cur.by.wins(o.By) {
			r.extra[k] = ExtraValue{Raw: raw, by: o.By}
		}
	}

	if d.ModifiedAt != nil {
		r.modifiedAt.apply(*d.ModifiedAt, o.By)
	}

	if existed {
		c.events.emit(Event{Kind: EventMetadataChanged, Path: o.Path})
	} else {
		c.events.emit(Event{Kind: EventFileCreated, Path: o.Path})
	}
}

// Tombstone soft-deletes the record at path.
func (c *CRDT) Tombstone(path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	by := c.nextWriter()
	o := op{Kind: opTombstone, By: by, Path: path}
	c.events.begin()
	c.applyTombstone(o)
	c.events.end()
	return encodeOp(o)
}

func (c *CRDT) applyTombstone(o op) {
	r := c.getOrCreate(o.Path)
	r.tombstoned.apply(true, o.By)
	c.events.emit(Event{Kind: EventFileDeleted, Path: o.Path})
}

// Restore undoes a Tombstone, subject to the usual last-writer-wins
// tiebreak (a concurrent delete with a higher clock still wins).
func (c *CRDT) Restore(path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	by := c.nextWriter()
	o := op{Kind: opRestore, By: by, Path: path}
	c.events.begin()
	c.applyRestore(o)
	c.events.end()
	return encodeOp(o)
}

func (c *CRDT) applyRestore(o op) {
	r := c.getOrCreate(o.Path)
	r.tombstoned.apply(false, o.By)
	c.events.emit(Event{Kind: EventFileCreated, Path: o.Path})
}

// AddChild appends childName to parentPath's ordered children list,
// creating parentPath as a container if it doesn't already exist.
func (c *CRDT) AddChild(parentPath, childName string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	by := c.nextWriter()
	parent := c.getOrCreate(parentPath)
	if parent.children == nil {
		parent.children = newChildList(c.clientID)
	}
	after := parent.children.lastVisibleID()
	id := parent.children.insertAfterID(after, childName)

	o := op{Kind: opAddChild, By: by, Parent: parentPath, Child: childName, ChildID: &id, AfterID: &after}
	c.events.begin()
	c.events.emit(Event{Kind: EventMetadataChanged, Path: parentPath})
	c.events.end()
	return encodeOp(o)
}

func (c *CRDT) applyAddChild(o op) {
	parent := c.getOrCreate(o.Parent)
	if parent.children == nil {
		parent.children = newChildList(c.clientID)
	}
	if o.ChildID == nil || o.AfterID == nil {
		return
	}
	parent.children.list.Integrate(*o.ChildID, *o.AfterID, o.Child, false)
	c.events.emit(Event{Kind: EventMetadataChanged, Path: o.Parent})
}

// RemoveChild removes childName from parentPath's children list.
// Returns domain.ErrPathNotFound if childName isn't currently listed.
func (c *CRDT) RemoveChild(parentPath, childName string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	by := c.nextWriter()
	parent := c.getOrCreate(parentPath)
	if parent.children == nil {
		return nil, domain.ErrPathNotFound
	}
	id, ok := parent.children.removeName(childName)
	if !ok {
		return nil, domain.ErrPathNotFound
	}

	o := op{Kind: opRemoveChild, By: by, Parent: parentPath, Child: childName, ChildID: &id}
	c.events.begin()
	c.events.emit(Event{Kind: EventMetadataChanged, Path: parentPath})
	c.events.end()
	return encodeOp(o)
}

func (c *CRDT) applyRemoveChild(o op) {
	parent := c.getOrCreate(o.Parent)
	if parent.children == nil || o.ChildID == nil {
		return
	}
	parent.children.list.LocalDelete(*o.ChildID)
	c.events.emit(Event{Kind: EventMetadataChanged, Path: o.Parent})
}

// Move relocates childName from oldParent's children list to
// newParent's, and updates path's own parent pointer to newParent.
func (c *CRDT) Move(path, oldParent, newParent string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	by := c.nextWriter()
	name := baseName(path)
	o := op{Kind: opMove, By: by, Path: path, Parent: oldParent, NewParent: newParent, Child: name}
	c.events.begin()
	c.applyMove(o)
	c.events.end()
	return encodeOp(o)
}

func (c *CRDT) applyMove(o op) {
	if old := c.getIfExists(o.Parent); old != nil && old.children != nil {
		old.children.removeName(o.Child)
	}

	newP := c.getOrCreate(o.NewParent)
	if newP.children == nil {
		newP.children = newChildList(c.clientID)
	}
	after := newP.children.lastVisibleID()
	newP.children.insertAfterID(after, o.Child)

	rec := c.getOrCreate(o.Path)
	rec.parent.apply(o.NewParent, o.By)
	rec.hasParent.apply(true, o.By)

	c.events.emit(Event{Kind: EventFileMoved, Path: o.Path, OldPath: o.Parent, NewPath: o.NewParent})
}

// Rename addresses the record currently at oldPath under newPath
// instead: per spec.md §4.2 this is composite — it puts newPath with
// oldPath's current contents, tombstones oldPath, and updates the
// parent's children list and the renamed record's own children's
// parent pointers.
//
// Descendant records keep their existing map keys (they are not
// cascade-renamed); only their parent field is updated to point at
// newPath. A tree walk that concatenates parent-path+child-name to
// address a descendant will therefore not find it under the new
// prefix — build-tree callers must resolve descendants by their
// stored key, not by recomputing a path from the parent chain. This
// is a known simplification: true cascade-rename of an entire
// subtree isn't implemented.
func (c *CRDT) Rename(oldPath, newPath string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	by := c.nextWriter()
	old := c.getOrCreate(oldPath)
	var parentPath string
	if old.hasParent.Set && old.hasParent.Value {
		parentPath = old.parent.Value
	}

	o := op{Kind: opRename, By: by, Path: oldPath, NewPath: newPath, Parent: parentPath, OldPath: baseName(oldPath), Child: baseName(newPath)}
	c.events.begin()
	c.applyRename(o)
	c.events.end()
	return encodeOp(o)
}

func (c *CRDT) applyRename(o op) {
	old := c.getOrCreate(o.Path)
	newRec := c.getOrCreate(o.NewPath)
	copyRecordForward(old, newRec, o.By)
	old.tombstoned.apply(true, o.By)

	if parent := c.getIfExists(o.Parent); parent != nil && parent.children != nil {
		after := parent.children.lastVisibleID()
		if id, ok := parent.children.removeName(o.OldPath); ok {
			if n, ok2 := parent.children.list.Get(id); ok2 {
				after = n.ParentID
			}
		}
		parent.children.insertAfterID(after, o.Child)
	}

	if newRec.children != nil {
		for _, childName := range newRec.children.dedupedValues() {
			childPath := o.Path + "/" + childName
			if child := c.getIfExists(childPath); child != nil {
				child.parent.apply(o.NewPath, o.By)
			}
		}
	}

	c.events.emit(Event{Kind: EventFileRenamed, Path: o.Path, OldPath: o.Path, NewPath: o.NewPath})
}

// copyRecordForward transplants old's current field values onto dst,
// used by Rename to re-home a record under a new map key. children and
// attachments move by reference (their own CRDT history is preserved);
// scalar and map fields are merged field-wise using the normal
// last-writer-wins rule so a concurrent direct write to dst still
// resolves deterministically.
func copyRecordForward(old, dst *Record, by writer) {
	if old.title.Set {
		dst.title.apply(old.title.Value, by)
	}
	if old.hasParent.Set {
		dst.parent.apply(old.parent.Value, by)
		dst.hasParent.apply(old.hasParent.Value, by)
	}
	if old.description.Set {
		dst.description.apply(old.description.Value, by)
	}
	for tag, reg := range old.audiences {
		if reg.Set {
			cur := dst.audiences[tag]
			cur.apply(reg.Value, by)
			dst.audiences[tag] = cur
		}
	}
	for k, ev := range old.extra {
		dst.extra[k] = ExtraValue{Raw: ev.Raw, by: by}
	}
	if old.children != nil && dst.children == nil {
		dst.children = old.children
	}
	if old.attachments != nil && dst.attachments == nil {
		dst.attachments = old.attachments
	}
	if old.modifiedAt.Set {
		dst.modifiedAt.apply(old.modifiedAt.Value, by)
	}
}

// PutAttachment merges ref into path's attachment OR-set, keyed by
// ref.ContentHash.
func (c *CRDT) PutAttachment(path string, ref AttachmentRef) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	by := c.nextWriter()
	o := op{Kind: opPutAttachment, By: by, Path: path, Attachment: &ref}
	c.events.begin()
	c.applyPutAttachment(o)
	c.events.end()
	return encodeOp(o)
}

func (c *CRDT) applyPutAttachment(o op) {
	r := c.getOrCreate(o.Path)
	if r.attachments == nil {
		r.attachments = newAttachmentSet()
	}
	if o.Attachment == nil {
		return
	}
	r.attachments.put(*o.Attachment, o.By)
	c.events.emit(Event{Kind: EventMetadataChanged, Path: o.Path})
}

// ApplyRemote decodes and merges an update produced by (and received
// from) a peer replica. Safe to call with an update this CRDT has
// already seen; merges are idempotent.
func (c *CRDT) ApplyRemote(update []byte) error {
	o, err := decodeOp(update)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if o.By.Clock > c.clock && o.By.ClientID == c.clientID {
		c.clock = o.By.Clock
	}

	c.events.begin()
	defer c.events.end()

	switch o.Kind {
	case opPut:
		c.applyPut(o)
	case opTombstone:
		c.applyTombstone(o)
	case opRestore:
		c.applyRestore(o)
	case opAddChild:
		c.applyAddChild(o)
	case opRemoveChild:
		c.applyRemoveChild(o)
	case opMove:
		c.applyMove(o)
	case opRename:
		c.applyRename(o)
	case opPutAttachment:
		c.applyPutAttachment(o)
	default:
		return domain.NewDomainError("DX-WS-4001", "unknown workspace op kind").WithDetails(string(o.Kind))
	}
	return nil
}
