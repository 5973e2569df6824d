package wire

import (
	"encoding/base64"
	"encoding/json"

	"github.com/diaryx/syncd/internal/core/domain"
)

// Control message type names. Text frames are JSON objects with a
// "type" field drawn from this closed set.
const (
	TypeFileManifest     = "FileManifest"
	TypeCrdtState        = "CrdtState"
	TypeFilesReady       = "FilesReady"
	TypeSyncProgress     = "sync_progress"
	TypeSyncComplete     = "sync_complete"
	TypeFocusListChanged = "focus_list_changed"
	TypeFocus            = "focus"
	TypeUnfocus          = "unfocus"
	TypePeerJoined       = "peer_joined"
	TypePeerLeft         = "peer_left"
	TypeSessionJoined    = "session_joined"
	TypeSessionEnded     = "session_ended"
)

// ManifestFile is one entry of a FileManifest.
type ManifestFile struct {
	Path  string `json:"path"`
	Title string `json:"title,omitempty"`
}

// Control is the union of every text-frame message. Type selects which
// fields are meaningful.
type Control struct {
	Type string `json:"type"`

	// FileManifest
	ClientIsNew bool           `json:"client_is_new,omitempty"`
	Manifest    []ManifestFile `json:"manifest,omitempty"`

	// CrdtState: a full document snapshot pushed inline, used when a
	// new client cannot fetch the snapshot archive over HTTP.
	DocID string `json:"doc_id,omitempty"`
	State string `json:"state,omitempty"` // base64 snapshot payload

	// sync_progress
	Completed int `json:"completed,omitempty"`
	Total     int `json:"total,omitempty"`

	// sync_complete
	FilesSynced int `json:"files_synced,omitempty"`

	// focus / unfocus / focus_list_changed
	Files []string `json:"files,omitempty"`

	// peer_joined / peer_left / session_joined
	ClientID    string `json:"client_id,omitempty"`
	SessionCode string `json:"session,omitempty"`
}

// EncodeControl serializes a control message to a text frame.
func EncodeControl(c Control) (string, error) {
	if c.Type == "" {
		return "", domain.ErrProtocolViolation.WithDetails("control message missing type")
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", domain.ErrProtocolViolation.WithDetails("encode control").WithCause(err)
	}
	return string(b), nil
}

// DecodeControl parses a text frame. Unknown types are rejected so a
// newer peer can't silently degrade.
func DecodeControl(s string) (Control, error) {
	var c Control
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return Control{}, domain.ErrProtocolViolation.WithDetails("bad control json").WithCause(err)
	}
	switch c.Type {
	case TypeFileManifest, TypeCrdtState, TypeFilesReady,
		TypeSyncProgress, TypeSyncComplete, TypeFocusListChanged,
		TypeFocus, TypeUnfocus,
		TypePeerJoined, TypePeerLeft, TypeSessionJoined, TypeSessionEnded:
		return c, nil
	default:
		return Control{}, domain.ErrProtocolViolation.WithDetails("unknown control type " + c.Type)
	}
}

// StateBytes decodes the base64 snapshot payload of a CrdtState
// message.
func (c Control) StateBytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(c.State)
	if err != nil {
		return nil, domain.ErrProtocolViolation.WithDetails("bad crdt state encoding").WithCause(err)
	}
	return raw, nil
}

// NewCrdtState builds a CrdtState control message from snapshot bytes.
func NewCrdtState(docID string, snap []byte) Control {
	return Control{
		Type:  TypeCrdtState,
		DocID: docID,
		State: base64.StdEncoding.EncodeToString(snap),
	}
}
