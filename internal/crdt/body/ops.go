package body

import (
	"encoding/json"
	"fmt"

	"github.com/diaryx/syncd/internal/crdt/rga"
)

type opKind string

const (
	opInsert    opKind = "insert"
	opDelete    opKind = "delete"
	opSetMark   opKind = "set_mark"
	opClearMark opKind = "clear_mark"
)

// charInsert is one new character, self-sufficient for remote replay:
// it carries its own id and the id of the element it was inserted
// after, so a peer can call rga.Seq.Integrate without any other
// context.
type charInsert struct {
	ID       rga.ID `json:"id"`
	ParentID rga.ID `json:"parent_id"`
	Value    rune   `json:"value"`
}

type op struct {
	Kind opKind `json:"kind"`
	By   writer `json:"by"`

	Inserts []charInsert `json:"inserts,omitempty"`

	DeleteIDs []rga.ID `json:"delete_ids,omitempty"`

	MarkIDs  []rga.ID `json:"mark_ids,omitempty"`
	MarkKind string   `json:"mark_kind,omitempty"`
}

func encodeOp(o op) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("body: encode op: %w", err)
	}
	return b, nil
}

func decodeOp(b []byte) (op, error) {
	var o op
	if err := json.Unmarshal(b, &o); err != nil {
		return op{}, fmt.Errorf("body: decode op: %w", err)
	}
	return o, nil
}
