package relay

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/diaryx/syncd/internal/storage"
	"github.com/diaryx/syncd/internal/storage/docstore"
)

// Hub owns one actor per workspace, creating them lazily on first use
// and sharing them across the WebSocket and HTTP surfaces.
type Hub struct {
	cfg     HubConfig
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	actors map[string]*workspaceHandle
}

// HubConfig configures workspace provisioning.
type HubConfig struct {
	// DataDir is the root under which each workspace gets its own
	// directory (log database + blob store).
	DataDir string

	// ServerClientID tags updates the relay itself mints (snapshot
	// uploads replayed through the CRDTs).
	ServerClientID string
}

type workspaceHandle struct {
	actor  *Actor
	engine *storage.Engine
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig, logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		actors:  make(map[string]*workspaceHandle),
	}
}

// Actor returns (creating and recovering if needed) the actor for
// workspaceID.
func (h *Hub) Actor(workspaceID string) (*Actor, error) {
	handle, err := h.handle(workspaceID)
	if err != nil {
		return nil, err
	}
	return handle.actor, nil
}

// Store returns the workspace's document store, for the snapshot HTTP
// surface.
func (h *Hub) Store(workspaceID string) (*docstore.Store, error) {
	handle, err := h.handle(workspaceID)
	if err != nil {
		return nil, err
	}
	return handle.engine.Store(), nil
}

// StorageEngine returns the workspace's storage engine, for the admin
// surface (snapshot trigger, stats).
func (h *Hub) StorageEngine(workspaceID string) (*storage.Engine, error) {
	handle, err := h.handle(workspaceID)
	if err != nil {
		return nil, err
	}
	return handle.engine, nil
}

// Workspaces lists the workspace ids with a live actor.
func (h *Hub) Workspaces() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.actors))
	for id := range h.actors {
		out = append(out, id)
	}
	return out
}

func (h *Hub) handle(workspaceID string) (*workspaceHandle, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("relay: empty workspace id")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if handle, ok := h.actors[workspaceID]; ok {
		return handle, nil
	}

	cfg := storage.DefaultConfig(filepath.Join(h.cfg.DataDir, workspaceID), h.cfg.ServerClientID)
	cfg.Logger = h.logger.With("workspace_id", workspaceID)
	engine, err := storage.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("relay: open workspace storage: %w", err)
	}
	if err := engine.Recover(context.Background()); err != nil {
		engine.Close()
		return nil, fmt.Errorf("relay: recover workspace: %w", err)
	}

	actor := NewActor(workspaceID, engine.Store(), h.logger, h.metrics)
	if h.metrics != nil {
		h.metrics.ActorsActive.Inc()
	}
	handle := &workspaceHandle{actor: actor, engine: engine}
	h.actors[workspaceID] = handle
	return handle, nil
}

// Close stops every actor and closes its storage.
func (h *Hub) Close() error {
	h.mu.Lock()
	handles := make([]*workspaceHandle, 0, len(h.actors))
	for _, handle := range h.actors {
		handles = append(handles, handle)
	}
	h.actors = make(map[string]*workspaceHandle)
	h.mu.Unlock()

	var firstErr error
	for _, handle := range handles {
		handle.actor.Stop()
		if h.metrics != nil {
			h.metrics.ActorsActive.Dec()
		}
		if err := handle.engine.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
