package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diaryx/syncd/internal/crdt/workspace"
	"github.com/diaryx/syncd/internal/storage/docstore"
)

func TestClientIDStableAcrossRestarts(t *testing.T) {
	dir := t.TempDir()

	id1, err := loadOrCreateClientID(dir)
	if err != nil {
		t.Fatalf("loadOrCreateClientID: %v", err)
	}
	if !strings.HasPrefix(id1, "c") {
		t.Fatalf("client id = %q, want c-prefixed ULID", id1)
	}

	id2, err := loadOrCreateClientID(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("client id changed across loads: %q vs %q", id1, id2)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "client-id"))
	if err != nil {
		t.Fatalf("read id file: %v", err)
	}
	if strings.TrimSpace(string(raw)) != id1 {
		t.Fatalf("persisted id = %q", raw)
	}
}

func TestOpenIsIdempotentAndCloseReleases(t *testing.T) {
	rt := NewSyncRuntime(RuntimeConfig{ServerURL: "ws://127.0.0.1:1"})
	defer rt.CloseAll()

	dir := t.TempDir()
	sess, err := rt.Open(context.Background(), "w1", dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	again, err := rt.Open(context.Background(), "w1", dir)
	if err != nil {
		t.Fatalf("Open again: %v", err)
	}
	if sess != again {
		t.Fatalf("second Open created a fresh session")
	}

	if _, ok := rt.Get("w1"); !ok {
		t.Fatalf("Get lost the open session")
	}

	if err := rt.Close("w1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := rt.Get("w1"); ok {
		t.Fatalf("session still registered after Close")
	}
}

func TestLocalEditsPersistAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	docID := docstore.WorkspaceDocID("w1")
	title := "Persisted"

	rt := NewSyncRuntime(RuntimeConfig{ServerURL: "ws://127.0.0.1:1"})
	sess, err := rt.Open(context.Background(), "w1", dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	update, err := sess.Store().Workspace(docID).Put("note.md", workspace.RecordDelta{Title: &title})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := sess.Adapter().QueueLocalUpdate(docID, update); err != nil {
		t.Fatalf("QueueLocalUpdate: %v", err)
	}
	if err := rt.Close("w1"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh runtime over the same directory recovers the edit.
	rt2 := NewSyncRuntime(RuntimeConfig{ServerURL: "ws://127.0.0.1:1"})
	defer rt2.CloseAll()
	sess2, err := rt2.Open(context.Background(), "w1", dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok := sess2.Store().Workspace(docID).Get("note.md")
	if !ok || v.Title == nil || *v.Title != title {
		t.Fatalf("edit lost across reopen: %+v", v)
	}
}
