package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/diaryx/syncd/pkg/crypto/adaptive"
)

func sampleDocs() []Doc {
	return []Doc{
		{DocID: "workspace:w1", Snap: []byte(`{"vector":{"a":3},"state":"eyJ9"}`)},
		{DocID: "body:w1/notes/a.md", Snap: []byte(`{"vector":{"b":1},"state":"eyJ9"}`)},
	}
}

func TestManager_CreateLoadPlain(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(Config{Dir: dir, RetentionCount: 5, RetentionDays: 7, NodeID: "n1"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	docs := sampleDocs()
	info, err := m.Create(docs, uint64(3)<<32|123)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.DocCount != 2 {
		t.Fatalf("DocCount = %d, want 2", info.DocCount)
	}

	got, loadedInfo, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loadedInfo.WALLastOffset != info.WALLastOffset {
		t.Fatalf("WALLastOffset = %d, want %d", loadedInfo.WALLastOffset, info.WALLastOffset)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d docs, want 2", len(got))
	}
	byID := map[string][]byte{}
	for _, d := range got {
		byID[d.DocID] = d.Snap
	}
	for _, want := range docs {
		if !bytes.Equal(byID[want.DocID], want.Snap) {
			t.Fatalf("doc %s round trip mismatch", want.DocID)
		}
	}
}

func TestManager_CreateLoadEncrypted(t *testing.T) {
	dir := t.TempDir()
	cipher, err := adaptive.New(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("New cipher: %v", err)
	}
	m, err := NewManager(Config{Dir: dir, Cipher: cipher, NodeID: "n1"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := m.Create(sampleDocs(), 7); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d docs, want 2", len(got))
	}

	// A manager without the cipher must refuse, not return garbage.
	plain, err := NewManager(Config{Dir: dir})
	if err != nil {
		t.Fatalf("NewManager plain: %v", err)
	}
	if _, _, err := plain.Load(); err == nil {
		t.Fatalf("Load without cipher succeeded; want error")
	}
}

func TestManager_PruningKeepsAtLeastOne(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(Config{Dir: dir, RetentionCount: 2, RetentionDays: 7})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := m.Create(sampleDocs(), uint64(i)); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.Prune(); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	infos, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) == 0 {
		t.Fatalf("pruning removed every snapshot")
	}
	if len(infos) > 2 {
		t.Fatalf("%d snapshots left after prune, want <= 2", len(infos))
	}
}

func TestManager_LoadFallsBackOnCorruptedLatest(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(Config{Dir: dir})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	good, err := m.Create(sampleDocs(), 11)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(time.Second + 50*time.Millisecond)
	bad, err := m.Create(sampleDocs(), 12)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Truncate the newest file so its checksum fails.
	if err := os.Truncate(bad.Path, bad.Size/2); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	_, info, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if info.WALLastOffset != good.WALLastOffset {
		t.Fatalf("fell back to offset %d, want %d", info.WALLastOffset, good.WALLastOffset)
	}
}

func TestManager_LoadEmptyDir(t *testing.T) {
	m, err := NewManager(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, _, err := m.Load(); err != ErrNoSnapshots {
		t.Fatalf("Load = %v, want ErrNoSnapshots", err)
	}
}

func TestManager_LoadInvalidMagic(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(Config{Dir: dir})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	bogus := filepath.Join(dir, filePrefix+"20990101-000000-ffffffff"+fileExtension)
	if err := os.WriteFile(bogus, bytes.Repeat([]byte{0x00}, 64), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := m.Load(); err == nil {
		t.Fatalf("Load of bogus snapshot succeeded; want error")
	}
}

func TestNewManager_EmptyDir(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Fatalf("NewManager with empty dir succeeded; want error")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/tmp/snaps")
	if cfg.Dir != "/tmp/snaps" {
		t.Fatalf("Dir = %q", cfg.Dir)
	}
	if cfg.RetentionCount != DefaultRetentionCount || cfg.RetentionDays != DefaultRetentionDays {
		t.Fatalf("retention defaults not applied: %+v", cfg)
	}
}
