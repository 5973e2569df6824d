package causallog

import (
	"bytes"
	"testing"
)

func TestAppendAssignsSequentialClocks(t *testing.T) {
	l := NewDocLog("workspace:w1")

	e1, err := l.Append("clientA", []byte("u1"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	e2, err := l.Append("clientA", []byte("u2"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if e1.Clock != 1 || e2.Clock != 2 {
		t.Fatalf("clocks = %d, %d; want 1, 2", e1.Clock, e2.Clock)
	}
	sv := l.StateVector()
	if sv["clientA"] != 2 {
		t.Fatalf("state vector = %v; want clientA=2", sv)
	}
}

func TestAppendRemoteIsIdempotent(t *testing.T) {
	l := NewDocLog("workspace:w1")
	env := Envelope{ClientID: "clientB", Clock: 7, Payload: []byte("u")}

	ok, err := l.AppendRemote(env)
	if err != nil || !ok {
		t.Fatalf("first append = (%v, %v); want (true, nil)", ok, err)
	}
	ok, err = l.AppendRemote(env)
	if err != nil || ok {
		t.Fatalf("duplicate append = (%v, %v); want (false, nil)", ok, err)
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d; want 1", l.Len())
	}
}

func TestRangeExcludesCoveredEntries(t *testing.T) {
	l := NewDocLog("workspace:w1")
	l.Append("a", []byte("a1"))
	l.Append("a", []byte("a2"))
	l.AppendRemote(Envelope{ClientID: "b", Clock: 1, Payload: []byte("b1")})

	got := l.Range(StateVector{"a": 1})
	if len(got) != 2 {
		t.Fatalf("range returned %d entries; want 2", len(got))
	}
	for _, e := range got {
		if e.ClientID == "a" && e.Clock <= 1 {
			t.Fatalf("range returned covered entry %s@%d", e.ClientID, e.Clock)
		}
	}

	// A dominating vector yields an empty delta.
	if got := l.Range(StateVector{"a": 2, "b": 1}); len(got) != 0 {
		t.Fatalf("range with dominating vector returned %d entries; want 0", len(got))
	}
}

func TestCompactReplacesPrefixWithSnapshot(t *testing.T) {
	l := NewDocLog("workspace:w1")
	l.Append("a", []byte("a1"))
	l.Append("a", []byte("a2"))
	l.Append("a", []byte("a3"))

	upTo := StateVector{"a": 2}
	if err := l.Compact(upTo, []byte("compact-state")); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("live entries after compact = %d; want 1", l.Len())
	}

	// A fresh replica gets the snapshot plus the uncompacted suffix.
	got := l.Range(StateVector{})
	if len(got) != 2 {
		t.Fatalf("range after compact = %d entries; want 2", len(got))
	}
	if !got[0].Snapshot {
		t.Fatalf("first range entry is not the snapshot")
	}
	if got[1].Clock != 3 {
		t.Fatalf("suffix entry clock = %d; want 3", got[1].Clock)
	}

	// A replica already past the compaction point skips the snapshot.
	got = l.Range(StateVector{"a": 2})
	if len(got) != 1 || got[0].Snapshot {
		t.Fatalf("range past compaction = %+v; want just the suffix entry", got)
	}

	// Re-appending a compacted entry is a no-op.
	ok, err := l.AppendRemote(Envelope{ClientID: "a", Clock: 1, Payload: []byte("a1")})
	if err != nil || ok {
		t.Fatalf("append of compacted entry = (%v, %v); want (false, nil)", ok, err)
	}
}

func TestApplySnapshotResetsLog(t *testing.T) {
	l := NewDocLog("workspace:w1")
	l.Append("a", []byte("a1"))

	snap, err := EncodeSnapshotData(StateVector{"a": 5, "b": 3}, []byte("state"))
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	if err := l.ApplySnapshot(snap); err != nil {
		t.Fatalf("apply snapshot: %v", err)
	}

	sv := l.StateVector()
	if sv["a"] != 5 || sv["b"] != 3 {
		t.Fatalf("state vector after snapshot = %v; want a=5 b=3", sv)
	}
	if l.Len() != 0 {
		t.Fatalf("live entries after snapshot = %d; want 0", l.Len())
	}

	// Updates covered by the snapshot vector merge as no-ops.
	ok, err := l.AppendRemote(Envelope{ClientID: "b", Clock: 2, Payload: []byte("old")})
	if err != nil || ok {
		t.Fatalf("covered append = (%v, %v); want (false, nil)", ok, err)
	}
	// Uncovered updates still land.
	ok, err = l.AppendRemote(Envelope{ClientID: "b", Clock: 4, Payload: []byte("new")})
	if err != nil || !ok {
		t.Fatalf("uncovered append = (%v, %v); want (true, nil)", ok, err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"update", Envelope{ClientID: "01J0EXAMPLE", Clock: 42, Payload: []byte(`{"kind":"put"}`)}},
		{"empty payload", Envelope{ClientID: "c", Clock: 1}},
		{"snapshot", Envelope{Snapshot: true, Payload: []byte("snap")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.env.Encode()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeEnvelope(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.ClientID != tt.env.ClientID || got.Clock != tt.env.Clock || got.Snapshot != tt.env.Snapshot {
				t.Fatalf("round trip header = %+v; want %+v", got, tt.env)
			}
			if !bytes.Equal(got.Payload, tt.env.Payload) {
				t.Fatalf("round trip payload = %q; want %q", got.Payload, tt.env.Payload)
			}
		})
	}
}

func TestDecodeEnvelopeRejectsTruncated(t *testing.T) {
	env := Envelope{ClientID: "client", Clock: 9, Payload: []byte("x")}
	b, _ := env.Encode()
	for _, n := range []int{0, 1, 5, len(b) - len(env.Payload) - 1} {
		if _, err := DecodeEnvelope(b[:n]); err == nil {
			t.Fatalf("decode of %d-byte prefix succeeded; want error", n)
		}
	}
}

func TestStateVectorDominance(t *testing.T) {
	tests := []struct {
		name      string
		a, b      StateVector
		dominates bool
	}{
		{"empty dominates empty", StateVector{}, StateVector{}, true},
		{"superset dominates", StateVector{"a": 2, "b": 1}, StateVector{"a": 1}, true},
		{"missing client", StateVector{"a": 2}, StateVector{"b": 1}, false},
		{"lower clock", StateVector{"a": 1}, StateVector{"a": 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Dominates(tt.b); got != tt.dominates {
				t.Fatalf("Dominates = %v; want %v", got, tt.dominates)
			}
		})
	}
}

func TestStateVectorRoundTrip(t *testing.T) {
	sv := StateVector{"clientA": 10, "clientB": 3}
	b, err := sv.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeStateVector(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(sv) {
		t.Fatalf("round trip = %v; want %v", got, sv)
	}

	empty, err := DecodeStateVector(nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("decode nil = (%v, %v); want empty vector", empty, err)
	}
}
