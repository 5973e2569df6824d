package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/diaryx/syncd/pkg/crypto/adaptive"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("x")
	if cfg.Dir != "x" {
		t.Fatalf("Dir = %q, want %q", cfg.Dir, "x")
	}
	if cfg.SyncMode != SyncModeBatch {
		t.Fatalf("SyncMode = %q, want %q", cfg.SyncMode, SyncModeBatch)
	}
	if cfg.BatchCount != DefaultBatchCount {
		t.Fatalf("BatchCount = %d, want %d", cfg.BatchCount, DefaultBatchCount)
	}
	if cfg.BatchBytes != DefaultBatchBytes {
		t.Fatalf("BatchBytes = %d, want %d", cfg.BatchBytes, DefaultBatchBytes)
	}
	if cfg.MaxFileSize != DefaultMaxFileSize {
		t.Fatalf("MaxFileSize = %d, want %d", cfg.MaxFileSize, DefaultMaxFileSize)
	}
	if cfg.MaxEntryCount != DefaultMaxEntryCount {
		t.Fatalf("MaxEntryCount = %d, want %d", cfg.MaxEntryCount, DefaultMaxEntryCount)
	}
}

func syncConfig(dir string) Config {
	return Config{
		Dir:           dir,
		NodeID:        "node-1",
		SyncMode:      SyncModeSync,
		BatchCount:    1,
		BatchBytes:    1,
		MaxFileSize:   DefaultMaxFileSize,
		MaxEntryCount: DefaultMaxEntryCount,
	}
}

func TestWriterReader_RoundTripPlain(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(syncConfig(dir))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	now := time.Now().UnixMilli()
	e1 := NewUpdateEntry("workspace:w1", "clientA", 1, []byte(`{"kind":"put"}`), now)
	e2 := NewUpdateEntry("body:w1/a.md", "clientB", 7, []byte(`{"kind":"insert"}`), now)

	if err := w.Append(e1); err != nil {
		t.Fatalf("Append e1: %v", err)
	}
	if err := w.Append(e2); err != nil {
		t.Fatalf("Append e2: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(dir, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	entries, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("read %d entries, want 2", len(entries))
	}

	got1 := entries[0]
	if got1.OpType != OpTypeUpdate || got1.DocID != "workspace:w1" || got1.ClientID != "clientA" || got1.Clock != 1 {
		t.Fatalf("entry 1 = %+v", got1)
	}
	if !bytes.Equal(got1.Update, e1.Update) {
		t.Fatalf("entry 1 update = %q, want %q", got1.Update, e1.Update)
	}

	got2 := entries[1]
	if got2.DocID != "body:w1/a.md" || got2.ClientID != "clientB" || got2.Clock != 7 {
		t.Fatalf("entry 2 = %+v", got2)
	}
}

func TestWriterReader_RoundTripEncrypted(t *testing.T) {
	dir := t.TempDir()
	cipher, err := adaptive.New(bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("New cipher: %v", err)
	}

	cfg := syncConfig(dir)
	cfg.Cipher = cipher
	w, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	update := []byte(`{"kind":"tombstone","path":"secret.md"}`)
	if err := w.Append(NewUpdateEntry("workspace:w1", "c", 3, update, time.Now().UnixMilli())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The plaintext must not appear on disk.
	files, _ := os.ReadDir(dir)
	for _, f := range files {
		raw, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if bytes.Contains(raw, []byte("secret.md")) {
			t.Fatalf("plaintext leaked into %s", f.Name())
		}
	}

	r, err := NewReader(dir, cipher)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	entries, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 || !bytes.Equal(entries[0].Update, update) {
		t.Fatalf("encrypted round trip failed: %+v", entries)
	}
}

func TestWriter_ReopensExistingOpenSegment(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(syncConfig(dir))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Append(NewUpdateEntry("workspace:w1", "c", 1, []byte("u1"), time.Now().UnixMilli())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and continue appending into a new segment.
	w2, err := NewWriter(syncConfig(dir))
	if err != nil {
		t.Fatalf("NewWriter reopen: %v", err)
	}
	if err := w2.Append(NewUpdateEntry("workspace:w1", "c", 2, []byte("u2"), time.Now().UnixMilli())); err != nil {
		t.Fatalf("Append after reopen: %v", err)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("Close reopen: %v", err)
	}

	r, err := NewReader(dir, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	entries, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("read %d entries after reopen, want 2", len(entries))
	}
	if entries[1].Clock != 2 {
		t.Fatalf("second entry clock = %d, want 2", entries[1].Clock)
	}
}

func TestReader_SeekSkipsEarlierEntries(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(syncConfig(dir))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Append(NewUpdateEntry("workspace:w1", "c", 1, []byte("u1"), time.Now().UnixMilli())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	mid := w.CurrentOffset()
	if err := w.Append(NewUpdateEntry("workspace:w1", "c", 2, []byte("u2"), time.Now().UnixMilli())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(dir, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if err := r.Seek(mid); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	entries, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 1 || entries[0].Clock != 2 {
		t.Fatalf("after seek got %+v, want just clock=2", entries)
	}
}

func TestWriter_RejectsInvalidEntry(t *testing.T) {
	w, err := NewWriter(syncConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.Append(&Entry{OpType: OpTypeUnspecified, Timestamp: time.Now().UnixMilli(), DocID: "workspace:w1"}); err == nil {
		t.Fatalf("Append of unspecified op type succeeded; want error")
	}
	if err := w.Append(&Entry{OpType: OpTypeUpdate, Timestamp: time.Now().UnixMilli()}); err == nil {
		t.Fatalf("Append without doc id succeeded; want error")
	}
}

func TestEntryFrame_ChecksumDetectsFlippedBit(t *testing.T) {
	frame, err := encodeEntryFrame(NewUpdateEntry("workspace:w1", "c", 1, []byte("u"), time.Now().UnixMilli()), nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Frame layout: [len:4][crc:4][type:1][payload]. Flip a payload bit.
	frame[len(frame)-1] ^= 0x01
	if _, err := decodeEntryFrame(frame[4:], nil); err == nil {
		t.Fatalf("decode of corrupted frame succeeded; want checksum error")
	}
}

func TestEntryFrame_RoundTripSnapshot(t *testing.T) {
	snap := []byte(`{"vector":{"a":2},"state":"e30="}`)
	frame, err := encodeEntryFrame(NewSnapshotEntry("workspace:w1", snap, 1234), nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeEntryFrame(frame[4:], nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OpType != OpTypeSnapshot || got.DocID != "workspace:w1" {
		t.Fatalf("decoded = %+v", got)
	}
	if !bytes.Equal(got.Update, snap) {
		t.Fatalf("snapshot payload = %q, want %q", got.Update, snap)
	}
}

func TestWriter_SegmentRotation(t *testing.T) {
	dir := t.TempDir()
	cfg := syncConfig(dir)
	cfg.MaxEntryCount = 2

	w, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := uint64(1); i <= 5; i++ {
		if err := w.Append(NewUpdateEntry("workspace:w1", "c", i, []byte("u"), time.Now().UnixMilli())); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected rotation to produce multiple segments, got %d", len(files))
	}

	r, err := NewReader(dir, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	entries, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("read %d entries across segments, want 5", len(entries))
	}
}

func TestCompactor_RemovesOldSegments(t *testing.T) {
	dir := t.TempDir()
	cfg := syncConfig(dir)
	cfg.MaxEntryCount = 1

	w, err := NewWriter(cfg)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := uint64(1); i <= 6; i++ {
		if err := w.Append(NewUpdateEntry("workspace:w1", "c", i, []byte("u"), time.Now().UnixMilli())); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	offset := w.CurrentOffset()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	before, _ := os.ReadDir(dir)

	c := NewCompactor(dir, WithRetainCount(1))
	if err := c.Compact(offset); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	after, _ := os.ReadDir(dir)
	if len(after) >= len(before) {
		t.Fatalf("compaction removed nothing: %d -> %d files", len(before), len(after))
	}
}
