package workspace

import (
	"encoding/json"
	"fmt"

	"github.com/diaryx/syncd/internal/crdt/rga"
)

// opKind tags the variant of Op on the wire.
type opKind string

const (
	opPut           opKind = "put"
	opTombstone     opKind = "tombstone"
	opRestore       opKind = "restore"
	opAddChild      opKind = "add_child"
	opRemoveChild   opKind = "remove_child"
	opMove          opKind = "move"
	opRename        opKind = "rename"
	opPutAttachment opKind = "put_attachment"
)

// RecordDelta is a partial update to a Record: unset fields are left
// untouched by Put, matching spec.md §4.2 ("undefined fields are
// untouched").
type RecordDelta struct {
	Title            *string                    `json:"title,omitempty"`
	ClearTitle       bool                       `json:"clear_title,omitempty"`
	Parent           *string                    `json:"parent,omitempty"`
	ClearParent      bool                       `json:"clear_parent,omitempty"`
	MakeContainer    bool                       `json:"make_container,omitempty"`
	Description      *string                    `json:"description,omitempty"`
	ClearDescription bool                       `json:"clear_description,omitempty"`
	Audiences        map[string]bool            `json:"audiences,omitempty"`
	Extra            map[string]json.RawMessage `json:"extra,omitempty"`
	ModifiedAt       *int64                     `json:"modified_at,omitempty"`
}

// op is the decoded wire representation of one CRDT update. Every
// variant embeds the writer (client-id, clock) that produced it so
// Apply can resolve last-writer-wins ties without consulting the
// causal log entry header separately.
type op struct {
	Kind opKind      `json:"kind"`
	By   writer      `json:"by"`

	Path string       `json:"path,omitempty"`
	Delta *RecordDelta `json:"delta,omitempty"`

	Parent string `json:"parent,omitempty"`
	Child  string `json:"child,omitempty"`

	// ChildID/AfterID anchor add_child into the children RGA
	// deterministically across replicas.
	ChildID *rga.ID `json:"child_id,omitempty"`
	AfterID *rga.ID `json:"after_id,omitempty"`

	NewParent string `json:"new_parent,omitempty"`
	OldPath   string `json:"old_path,omitempty"`
	NewPath   string `json:"new_path,omitempty"`

	Attachment *AttachmentRef `json:"attachment,omitempty"`
}

func encodeOp(o op) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("workspace: encode op: %w", err)
	}
	return b, nil
}

func decodeOp(b []byte) (op, error) {
	var o op
	if err := json.Unmarshal(b, &o); err != nil {
		return op{}, fmt.Errorf("workspace: decode op: %w", err)
	}
	return o, nil
}
