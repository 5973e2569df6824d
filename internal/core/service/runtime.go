package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/diaryx/syncd/internal/storage"
	"github.com/diaryx/syncd/internal/storage/docstore"
	"github.com/diaryx/syncd/internal/sync/identity"
	"github.com/diaryx/syncd/internal/transport"
)

// RuntimeConfig configures a SyncRuntime.
type RuntimeConfig struct {
	// ServerURL is the relay's WebSocket base (ws:// or wss://).
	ServerURL string

	// Token is the bearer credential.
	Token string

	// Logger is the structured logger.
	Logger *slog.Logger
}

// SyncRuntime owns every workspace session of one device process.
type SyncRuntime struct {
	cfg    RuntimeConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*WorkspaceSession
}

// WorkspaceSession is one workspace's sync stack: durable storage, the
// engine, and the transport adapter.
type WorkspaceSession struct {
	workspaceID string
	engine      *storage.Engine
	adapter     *transport.Adapter
}

// Store exposes the session's document store to the editor layer.
func (ws *WorkspaceSession) Store() *docstore.Store { return ws.engine.Store() }

// Adapter exposes the transport adapter (focus, waits, local updates).
func (ws *WorkspaceSession) Adapter() *transport.Adapter { return ws.adapter }

// NewSyncRuntime creates an empty runtime.
func NewSyncRuntime(cfg RuntimeConfig) *SyncRuntime {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SyncRuntime{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*WorkspaceSession),
	}
}

// Open recovers (or creates) the workspace's local storage under
// workspaceDir/.diaryx and starts its transport. Idempotent per
// workspace id: a second Open returns the existing session.
func (r *SyncRuntime) Open(ctx context.Context, workspaceID, workspaceDir string) (*WorkspaceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[workspaceID]; ok {
		return sess, nil
	}

	dataDir := filepath.Join(workspaceDir, ".diaryx")
	clientID, err := loadOrCreateClientID(dataDir)
	if err != nil {
		return nil, fmt.Errorf("service: client id: %w", err)
	}

	storageCfg := storage.DefaultConfig(dataDir, clientID)
	storageCfg.Logger = r.logger.With("workspace_id", workspaceID)
	engine, err := storage.New(storageCfg)
	if err != nil {
		return nil, fmt.Errorf("service: open storage: %w", err)
	}
	if err := engine.Recover(ctx); err != nil {
		engine.Close()
		return nil, fmt.Errorf("service: recover storage: %w", err)
	}

	adapter := transport.New(engine.Store(), transport.Config{
		ServerURL:   r.cfg.ServerURL,
		Token:       r.cfg.Token,
		WorkspaceID: workspaceID,
		Logger:      r.logger,
	})
	adapter.Start()

	sess := &WorkspaceSession{
		workspaceID: workspaceID,
		engine:      engine,
		adapter:     adapter,
	}
	r.sessions[workspaceID] = sess
	r.logger.Info("workspace session opened",
		"workspace_id", workspaceID,
		"client_id", clientID)
	return sess, nil
}

// Get returns the open session for workspaceID, if any.
func (r *SyncRuntime) Get(workspaceID string) (*WorkspaceSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[workspaceID]
	return sess, ok
}

// Close stops one workspace session.
func (r *SyncRuntime) Close(workspaceID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[workspaceID]
	delete(r.sessions, workspaceID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	sess.adapter.Close()
	return sess.engine.Close()
}

// CloseAll stops every session.
func (r *SyncRuntime) CloseAll() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := r.Close(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// loadOrCreateClientID keeps the device's client id stable across
// restarts: minted once, persisted next to the causal log.
func loadOrCreateClientID(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", err
	}
	path := filepath.Join(dataDir, "client-id")

	raw, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(raw))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id := identity.NewClientID()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o640); err != nil {
		return "", err
	}
	return id, nil
}
