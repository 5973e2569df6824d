package workspace

import "encoding/json"

// writer tags the (client, clock) pair that last won a scalar field,
// used to break last-writer-wins ties deterministically regardless of
// delivery order.
type writer struct {
	ClientID string `json:"c"`
	Clock    uint64 `json:"k"`
}

// wins reports whether a write by candidate should replace the field
// currently owned by cur. Higher clock wins; ClientID breaks ties.
func (cur writer) wins(candidate writer) bool {
	if candidate.Clock != cur.Clock {
		return candidate.Clock > cur.Clock
	}
	return candidate.ClientID > cur.ClientID
}

// lww is a last-writer-wins register for one scalar field.
type lww[T any] struct {
	Value T      `json:"v"`
	By    writer `json:"by"`
	Set   bool   `json:"set"`
}

func (r *lww[T]) apply(val T, by writer) {
	if !r.Set || r.By.wins(by) {
		r.Value = val
		r.By = by
		r.Set = true
	}
}

// clear reverts the register to unset, subject to the same tiebreak as
// apply, so a late-arriving clear from an older writer can't undo a
// newer set and vice versa.
func (r *lww[T]) clear(by writer) {
	if !r.Set || r.By.wins(by) {
		var zero T
		r.Value = zero
		r.By = by
		r.Set = false
	}
}

// AttachmentRef is a reference to externally-stored attachment bytes.
// source is one of "local", "pending", or an external URL.
type AttachmentRef struct {
	RelativePath string `json:"relative_path"`
	Source       string `json:"source"`
	ContentHash  string `json:"content_hash"`
	MIME         string `json:"mime"`
	SizeBytes    int64  `json:"size_bytes"`
	UploadedAt   int64  `json:"uploaded_at,omitempty"`
	Tombstoned   bool   `json:"tombstoned"`

	by writer
}

// ExtraValue is a tagged sum type over frontmatter values the schema
// doesn't model explicitly. Unknown shapes are preserved bit-exactly via
// Raw so a round trip never loses information.
type ExtraValue struct {
	Raw json.RawMessage

	by writer
}

// Record is the metadata value keyed by file path in the Workspace CRDT.
// The unexported view method materializes the current merged view; the
// unexported lww/OR-set internals hold per-field merge metadata.
type Record struct {
	title       lww[string]
	parent      lww[string]
	hasParent   lww[bool] // tracks whether parent is set vs explicitly null
	children    *childList // nil ⇔ leaf file
	attachments *attachmentSet
	audiences   map[string]lww[bool]
	description lww[string]
	extra       map[string]ExtraValue
	tombstoned  lww[bool]
	modifiedAt  lww[int64]
}

func newRecord() *Record {
	return &Record{
		audiences: make(map[string]lww[bool]),
		extra:     make(map[string]ExtraValue),
	}
}

// View is the read-only materialized snapshot of a Record returned by
// Get/Iter.
type View struct {
	Path         string
	Title        *string
	Parent       *string
	Children     []string // nil ⇔ leaf; non-nil (possibly empty) ⇔ directory
	Attachments  []AttachmentRef
	Audiences    []string
	Description  *string
	Extra        map[string]json.RawMessage
	Tombstoned   bool
	ModifiedAt   int64
}

func (r *Record) view(path string) View {
	v := View{Path: path, Tombstoned: r.tombstoned.Value, ModifiedAt: r.modifiedAt.Value}
	if r.title.Set {
		t := r.title.Value
		v.Title = &t
	}
	if r.hasParent.Set && r.hasParent.Value {
		p := r.parent.Value
		v.Parent = &p
	}
	if r.description.Set {
		d := r.description.Value
		v.Description = &d
	}
	if r.children != nil {
		v.Children = r.children.dedupedValues()
	}
	if r.attachments != nil {
		v.Attachments = r.attachments.live()
	}
	for tag, reg := range r.audiences {
		if reg.Value {
			v.Audiences = append(v.Audiences, tag)
		}
	}
	if len(r.extra) > 0 {
		v.Extra = make(map[string]json.RawMessage, len(r.extra))
		for k, ev := range r.extra {
			v.Extra[k] = ev.Raw
		}
	}
	return v
}
