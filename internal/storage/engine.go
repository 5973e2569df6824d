// Package storage provides the durable storage engine for the sync
// core: the causal logs of every document in a workspace, persisted
// through a WAL and periodic snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/diaryx/syncd/internal/storage/causallog"
	"github.com/diaryx/syncd/internal/storage/docstore"
	"github.com/diaryx/syncd/internal/storage/snapshot"
	"github.com/diaryx/syncd/internal/storage/wal"
	"github.com/diaryx/syncd/pkg/crypto/adaptive"
)

// Default configuration values.
const (
	DefaultSnapshotInterval = time.Hour
	DefaultWALDir           = "data/wal"
	DefaultSnapshotDir      = "data/snapshots"
)

// Config configures the storage engine.
type Config struct {
	// DataDir is the base directory for all storage files.
	DataDir string

	// ClientID is the identity locally-minted updates are tagged with.
	// For the relay this is the server's client id; for a device it is
	// the device's stable client id.
	ClientID string

	// WAL configuration
	WAL wal.Config

	// Snapshot configuration
	Snapshot snapshot.Config

	// SnapshotInterval is the interval between automatic snapshots.
	// Zero disables the background loop.
	SnapshotInterval time.Duration

	// Cipher is the optional at-rest encryption cipher.
	Cipher adaptive.Cipher

	// NodeID identifies this node.
	NodeID string

	// Logger is the structured logger.
	Logger *slog.Logger
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig(dataDir, clientID string) Config {
	return Config{
		DataDir:          dataDir,
		ClientID:         clientID,
		WAL:              wal.DefaultConfig(dataDir + "/" + DefaultWALDir),
		Snapshot:         snapshot.DefaultConfig(dataDir + "/" + DefaultSnapshotDir),
		SnapshotInterval: DefaultSnapshotInterval,
		Logger:           slog.Default(),
	}
}

// Engine combines the in-memory document store, WAL, and snapshots:
// every accepted causal-log append is WAL-logged before the call
// returns, and recovery loads the latest snapshot then replays the WAL
// suffix.
type Engine struct {
	cfg Config

	store    *docstore.Store
	wal      *wal.Writer
	snapshot *snapshot.Manager

	mu            sync.Mutex
	lastWALOffset uint64
	recovering    bool

	logger *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a new storage engine.
//
// This initializes all components but does NOT perform recovery.
// Call Recover() after New() to load existing data.
func New(cfg Config) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("storage: data_dir is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("storage: client_id is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	// Apply common config to subcomponents.
	cfg.WAL.Cipher = cfg.Cipher
	cfg.WAL.NodeID = cfg.NodeID
	cfg.Snapshot.Cipher = cfg.Cipher
	cfg.Snapshot.NodeID = cfg.NodeID

	walWriter, err := wal.NewWriter(cfg.WAL)
	if err != nil {
		return nil, fmt.Errorf("storage: create wal writer: %w", err)
	}

	snapMgr, err := snapshot.NewManager(cfg.Snapshot)
	if err != nil {
		walWriter.Close()
		return nil, fmt.Errorf("storage: create snapshot manager: %w", err)
	}

	engine := &Engine{
		cfg:      cfg,
		wal:      walWriter,
		snapshot: snapMgr,
		logger:   cfg.Logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	engine.store = docstore.New(cfg.ClientID, engine)

	if cfg.SnapshotInterval > 0 {
		go engine.backgroundLoop()
	} else {
		close(engine.doneCh)
	}

	return engine, nil
}

// Store returns the document store the engine keeps durable.
func (e *Engine) Store() *docstore.Store {
	return e.store
}

// Persist implements docstore.Persister: the accepted envelope is
// appended to the WAL before the document store's caller proceeds.
func (e *Engine) Persist(docID string, env causallog.Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recovering {
		return nil
	}
	entry := wal.NewUpdateEntry(docID, env.ClientID, env.Clock, env.Payload, time.Now().UnixMilli())
	if err := e.wal.Append(entry); err != nil {
		return fmt.Errorf("storage: write wal: %w", err)
	}
	e.lastWALOffset = e.wal.CurrentOffset()
	return nil
}

// PersistSnapshot implements docstore.Persister for snapshot entries.
func (e *Engine) PersistSnapshot(docID string, snapBytes []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recovering {
		return nil
	}
	entry := wal.NewSnapshotEntry(docID, snapBytes, time.Now().UnixMilli())
	if err := e.wal.Append(entry); err != nil {
		return fmt.Errorf("storage: write wal snapshot: %w", err)
	}
	e.lastWALOffset = e.wal.CurrentOffset()
	return nil
}

// Recover recovers data from snapshots and the WAL.
//
// Recovery process:
//  1. Load latest snapshot file (if any) and import each document.
//  2. Replay WAL entries after the snapshot's WAL offset.
func (e *Engine) Recover(ctx context.Context) error {
	startTime := time.Now()
	e.logger.Info("storage recovery started")

	e.mu.Lock()
	e.recovering = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.recovering = false
		e.mu.Unlock()
	}()

	docs, snapInfo, err := e.snapshot.Load()
	if err != nil {
		if errors.Is(err, snapshot.ErrNoSnapshots) {
			e.logger.Info("no snapshot found, starting with empty store")
		} else {
			return fmt.Errorf("load snapshot: %w", err)
		}
	}

	walOffset := uint64(0)
	if snapInfo != nil {
		e.logger.Info("snapshot loaded",
			"path", snapInfo.Path,
			"doc_count", snapInfo.DocCount,
			"wal_last_offset", snapInfo.WALLastOffset,
			"elapsed", time.Since(startTime))

		for _, d := range docs {
			if err := e.store.ImportSnapshot(d.DocID, d.Snap); err != nil {
				e.logger.Warn("failed to restore document from snapshot",
					"doc_id", d.DocID,
					"error", err)
			}
		}

		walOffset = snapInfo.WALLastOffset
		e.mu.Lock()
		e.lastWALOffset = walOffset
		e.mu.Unlock()
	}

	replayStart := time.Now()
	applied, err := e.replayWAL(ctx, walOffset)
	if err != nil {
		return fmt.Errorf("replay wal: %w", err)
	}
	if applied > 0 {
		e.logger.Info("wal replayed",
			"entries_applied", applied,
			"from_offset", walOffset,
			"elapsed", time.Since(replayStart))
	}

	e.logger.Info("recovery completed",
		"elapsed", time.Since(startTime),
		"doc_count", len(e.store.DocIDs()))
	return nil
}

// replayWAL replays WAL entries from the given composite offset.
func (e *Engine) replayWAL(ctx context.Context, fromOffset uint64) (int, error) {
	reader, err := wal.NewReader(e.cfg.WAL.Dir, e.cfg.WAL.Cipher)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	if err := reader.Seek(fromOffset); err != nil {
		return 0, err
	}

	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		entry, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			e.logger.Error("read wal entry failed", "error", err)
			continue
		}

		if err := e.applyEntry(entry); err != nil {
			e.logger.Warn("apply wal entry failed",
				"type", entry.OpType,
				"doc_id", entry.DocID,
				"error", err)
			continue
		}
		applied++
	}
	return applied, nil
}

// applyEntry replays one WAL entry into the document store.
func (e *Engine) applyEntry(entry *wal.Entry) error {
	switch entry.OpType {
	case wal.OpTypeUpdate:
		env := causallog.Envelope{
			ClientID: entry.ClientID,
			Clock:    entry.Clock,
			Payload:  entry.Update,
		}
		_, err := e.store.ApplyRemote(entry.DocID, env)
		return err

	case wal.OpTypeSnapshot:
		env := causallog.Envelope{Snapshot: true, Payload: entry.Update}
		_, err := e.store.ApplyRemote(entry.DocID, env)
		return err

	default:
		return fmt.Errorf("unknown entry type: %d", entry.OpType)
	}
}

// TriggerSnapshot captures every document's current state into a
// snapshot file and compacts the WAL behind it.
//
// This is called by the admin API and the background loop.
func (e *Engine) TriggerSnapshot(ctx context.Context) (*snapshot.Info, error) {
	e.logger.Info("triggering snapshot")

	docIDs := e.store.DocIDs()
	docs := make([]snapshot.Doc, 0, len(docIDs))
	for _, id := range docIDs {
		snapBytes, err := e.store.Snapshot(id)
		if err != nil {
			e.logger.Warn("snapshot of document failed", "doc_id", id, "error", err)
			continue
		}
		docs = append(docs, snapshot.Doc{DocID: id, Snap: snapBytes})
	}

	e.mu.Lock()
	offset := e.lastWALOffset
	e.mu.Unlock()

	info, err := e.snapshot.Create(docs, offset)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}

	e.logger.Info("snapshot created",
		"id", info.ID,
		"doc_count", info.DocCount,
		"wal_last_offset", info.WALLastOffset,
		"size_bytes", info.Size)

	if err := e.snapshot.Prune(); err != nil {
		e.logger.Warn("snapshot cleanup failed", "error", err)
	}

	// Best-effort WAL compaction after snapshot.
	compactor := wal.NewCompactor(e.cfg.WAL.Dir)
	if err := compactor.Compact(info.WALLastOffset); err != nil {
		e.logger.Warn("wal compaction failed", "error", err)
	}

	return info, nil
}

// backgroundLoop runs periodic snapshot creation.
func (e *Engine) backgroundLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := e.TriggerSnapshot(ctx); err != nil {
				e.logger.Error("auto snapshot failed", "error", err)
			}
			cancel()

		case <-e.stopCh:
			return
		}
	}
}

// Close gracefully shuts down the storage engine.
func (e *Engine) Close() error {
	e.logger.Info("shutting down storage engine")

	close(e.stopCh)
	<-e.doneCh

	// Close WAL writer (this flushes pending writes).
	if err := e.wal.Close(); err != nil {
		e.logger.Error("close wal failed", "error", err)
		return err
	}

	e.logger.Info("storage engine shutdown complete")
	return nil
}
