package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// echoServer upgrades and echoes every message back, then surfaces
// close frames.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			op, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch op {
			case OpText:
				conn.WriteText(string(payload))
			case OpBinary:
				conn.WriteBinary(payload)
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestTextRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := Dial(wsURL(srv), nil, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteText(`{"type":"FilesReady"}`); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	op, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if op != OpText || string(payload) != `{"type":"FilesReady"}` {
		t.Fatalf("echo = op %d payload %q", op, payload)
	}
}

func TestBinaryRoundTripSizes(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn, err := Dial(wsURL(srv), nil, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Sizes straddling the wire format's 7-bit, 16-bit, and 64-bit
	// length encodings.
	for _, size := range []int{1, 125, 126, 65535, 65536, 200_000} {
		msg := make([]byte, size)
		for i := range msg {
			msg[i] = byte(i)
		}
		if err := conn.WriteBinary(msg); err != nil {
			t.Fatalf("WriteBinary(%d): %v", size, err)
		}
		op, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage(%d): %v", size, err)
		}
		if op != OpBinary || len(payload) != size {
			t.Fatalf("echo size = %d, want %d", len(payload), size)
		}
		for i := range payload {
			if payload[i] != byte(i) {
				t.Fatalf("payload corrupted at %d", i)
			}
		}
	}
}

func TestCloseCodeSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			return
		}
		conn.WriteClose(4400, "unsupported protocol version")
		conn.Close()
	}))
	defer srv.Close()

	conn, err := Dial(wsURL(srv), nil, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	ce, ok := err.(*CloseError)
	if !ok {
		t.Fatalf("err = %v, want *CloseError", err)
	}
	if ce.Code != 4400 || ce.Reason != "unsupported protocol version" {
		t.Fatalf("close = %d %q", ce.Code, ce.Reason)
	}
}

func TestUpgradeRejectsPlainRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sync2", nil)
	if _, err := Upgrade(rec, req); err == nil {
		t.Fatalf("plain GET upgraded")
	}
}
