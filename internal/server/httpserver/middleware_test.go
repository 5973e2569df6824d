package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diaryx/syncd/pkg/token"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var captured string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}), RequestID())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if captured == "" {
		t.Fatal("no request id in context")
	}
	if rec.Header().Get("X-Request-ID") != captured {
		t.Fatalf("header id %q != context id %q", rec.Header().Get("X-Request-ID"), captured)
	}
}

func TestRequestIDPropagatesClientValue(t *testing.T) {
	h := Chain(okHandler(), RequestID())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestBearerAuth(t *testing.T) {
	secret := "s3cret-token"
	store := NewHashedTokens([]string{token.Hash(secret)})
	h := Chain(okHandler(), BearerAuth(store))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/workspaces/w1/snapshot", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/workspaces/w1/snapshot", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("header token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/workspaces/w1/snapshot", nil)
		req.Header.Set("Authorization", "Bearer "+secret)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("query token for websocket upgrades", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/sync2?token="+secret, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
}

func TestRateLimitRejectsBurst(t *testing.T) {
	h := Chain(okHandler(), RateLimit(2))

	codes := map[int]int{}
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[rec.Code]++
	}
	if codes[http.StatusTooManyRequests] == 0 {
		t.Fatalf("no 429 within a 10-request burst at limit 2: %v", codes)
	}

	// A different IP has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh IP rate limited immediately")
	}
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), RequestID(), Recover(discardLogger()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if rec.Header().Get("X-Error-Code") != "DX-SYS-5000" {
		t.Fatalf("error code = %q", rec.Header().Get("X-Error-Code"))
	}
}

func TestCORSReflectsAllowedOrigin(t *testing.T) {
	h := Chain(okHandler(), CORS([]string{"https://app.diaryx.net"}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.diaryx.net")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.diaryx.net" {
		t.Fatalf("allowed origin not reflected")
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin reflected")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := Chain(okHandler(), CORS(nil))
	req := httptest.NewRequest(http.MethodOptions, "/api/workspaces/w1/snapshot", nil)
	req.Header.Set("Origin", "https://anything.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
}

func TestNetworkACL(t *testing.T) {
	h := Chain(okHandler(), NetworkACL(&NetworkACLConfig{
		AllowList: []string{"192.168.1.0/24", "10.1.2.3"},
		Logger:    discardLogger(),
	}))

	tests := []struct {
		remote string
		want   int
	}{
		{"192.168.1.50:9999", http.StatusOK},
		{"10.1.2.3:1", http.StatusOK},
		{"203.0.113.9:1", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/admin/v1/status/summary", nil)
		req.RemoteAddr = tt.remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d", tt.remote, rec.Code, tt.want)
		}
	}
}

func TestGetClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:1"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := getClientIP(req); got != "198.51.100.7" {
		t.Fatalf("getClientIP = %q", got)
	}
}
