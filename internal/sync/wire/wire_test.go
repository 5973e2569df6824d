package wire

import (
	"bytes"
	"testing"

	"github.com/diaryx/syncd/internal/storage/causallog"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		docID   string
		payload []byte
	}{
		{"workspace", "workspace:w1", []byte{TagSync, SubStep1, '{', '}'}},
		{"body", "body:w1/notes/a.md", []byte{TagSync, SubUpdate, 0x00}},
		{"empty payload", "workspace:w1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeFrame(tt.docID, tt.payload)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeFrame(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.DocID != tt.docID || !bytes.Equal(got.Payload, tt.payload) {
				t.Fatalf("round trip = %+v", got)
			}
		})
	}
}

func TestFrameRejects(t *testing.T) {
	if _, err := EncodeFrame("", nil); err == nil {
		t.Fatalf("empty doc id accepted")
	}
	if _, err := EncodeFrame("workspace:é", nil); err == nil {
		t.Fatalf("non-ASCII doc id accepted")
	}
	if _, err := DecodeFrame(nil); err == nil {
		t.Fatalf("empty frame accepted")
	}
	if _, err := DecodeFrame([]byte{0}); err == nil {
		t.Fatalf("zero-length doc id accepted (reserved)")
	}
	if _, err := DecodeFrame([]byte{5, 'a', 'b'}); err == nil {
		t.Fatalf("truncated doc id accepted")
	}
}

func TestStep1RoundTrip(t *testing.T) {
	sv := causallog.StateVector{"a": 3, "b": 9}
	payload, err := EncodeStep1(sv)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := DecodeSync(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Sub != SubStep1 || !msg.SV.Equal(sv) {
		t.Fatalf("round trip = %+v", msg)
	}
}

func TestStep2RoundTrip(t *testing.T) {
	sv := causallog.StateVector{"a": 2}
	updates := []causallog.Envelope{
		{ClientID: "a", Clock: 1, Payload: []byte(`{"kind":"put"}`)},
		{ClientID: "a", Clock: 2, Payload: []byte(`{"kind":"tombstone"}`)},
	}
	payload, err := EncodeStep2(sv, updates)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := DecodeSync(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Sub != SubStep2 || !msg.SV.Equal(sv) {
		t.Fatalf("header round trip = %+v", msg)
	}
	if len(msg.Updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(msg.Updates))
	}
	for i, env := range msg.Updates {
		if env.ClientID != updates[i].ClientID || env.Clock != updates[i].Clock {
			t.Fatalf("update %d = %+v", i, env)
		}
		if !bytes.Equal(env.Payload, updates[i].Payload) {
			t.Fatalf("update %d payload mismatch", i)
		}
	}
}

func TestEmptyStep2RoundTrip(t *testing.T) {
	payload, err := EncodeStep2(causallog.StateVector{}, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := DecodeSync(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msg.Updates) != 0 {
		t.Fatalf("empty step2 decoded with %d updates", len(msg.Updates))
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	env := causallog.Envelope{ClientID: "c", Clock: 42, Payload: []byte(`{"kind":"insert"}`)}
	payload, err := EncodeUpdate(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := DecodeSync(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Sub != SubUpdate || msg.Update.ClientID != "c" || msg.Update.Clock != 42 {
		t.Fatalf("round trip = %+v", msg)
	}
	if !bytes.Equal(msg.Update.Payload, env.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestDecodeSyncRejects(t *testing.T) {
	if _, err := DecodeSync(nil); err == nil {
		t.Fatalf("nil payload accepted")
	}
	if _, err := DecodeSync([]byte{99, SubStep1}); err == nil {
		t.Fatalf("unknown tag accepted")
	}
	if _, err := DecodeSync([]byte{TagSync, 99}); err == nil {
		t.Fatalf("unknown sub-type accepted")
	}
}

func TestControlRoundTrip(t *testing.T) {
	tests := []Control{
		{Type: TypeFileManifest, ClientIsNew: true, Manifest: []ManifestFile{{Path: "index.md", Title: "Home"}}},
		{Type: TypeFilesReady},
		{Type: TypeSyncProgress, Completed: 5, Total: 10},
		{Type: TypeSyncComplete, FilesSynced: 200},
		{Type: TypeFocus, Files: []string{"body:w1/a.md"}},
		{Type: TypeUnfocus, Files: []string{"body:w1/a.md"}},
		{Type: TypeFocusListChanged, Files: []string{"body:w1/a.md", "body:w1/b.md"}},
		{Type: TypePeerJoined, ClientID: "c2"},
		{Type: TypePeerLeft, ClientID: "c2"},
		{Type: TypeSessionJoined, SessionCode: "abcd", ClientID: "c2"},
		{Type: TypeSessionEnded},
	}
	for _, c := range tests {
		t.Run(c.Type, func(t *testing.T) {
			s, err := EncodeControl(c)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeControl(s)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Type != c.Type || got.ClientIsNew != c.ClientIsNew ||
				got.Completed != c.Completed || got.FilesSynced != c.FilesSynced ||
				got.ClientID != c.ClientID || len(got.Files) != len(c.Files) {
				t.Fatalf("round trip = %+v, want %+v", got, c)
			}
		})
	}
}

func TestControlRejectsUnknownType(t *testing.T) {
	if _, err := DecodeControl(`{"type":"evil"}`); err == nil {
		t.Fatalf("unknown control type accepted")
	}
	if _, err := DecodeControl(`not json`); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func TestCrdtStateRoundTrip(t *testing.T) {
	snap := []byte(`{"vector":{"a":1},"state":"e30="}`)
	c := NewCrdtState("workspace:w1", snap)
	s, err := EncodeControl(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeControl(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw, err := got.StateBytes()
	if err != nil {
		t.Fatalf("StateBytes: %v", err)
	}
	if !bytes.Equal(raw, snap) {
		t.Fatalf("state round trip mismatch")
	}
}
