package handler

import (
	"net/http"
	"time"

	"github.com/diaryx/syncd/internal/crdt/workspace"
	"github.com/diaryx/syncd/internal/infra/buildinfo"
	"github.com/diaryx/syncd/internal/storage/causallog"
	"github.com/diaryx/syncd/internal/storage/docstore"
)

// defaultGCGraceMillis keeps tombstones for 30 days before the
// collector may touch them.
const defaultGCGraceMillis = 30 * 24 * int64(time.Hour/time.Millisecond)

type workspaceSummary struct {
	WorkspaceID string `json:"workspace_id"`
	Files       int    `json:"files"`
	Tombstoned  int    `json:"tombstoned"`
	LogEntries  int    `json:"log_entries"`
}

// handleAdminStatus handles GET /admin/v1/status/summary.
func (h *Handler) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	var summaries []workspaceSummary
	for _, wsID := range h.hub.Workspaces() {
		store, err := h.hub.Store(wsID)
		if err != nil {
			continue
		}
		s := workspaceSummary{WorkspaceID: wsID}
		wsDoc := docstore.WorkspaceDocID(wsID)
		store.Workspace(wsDoc).Iter(func(v workspace.View) bool {
			if v.Tombstoned {
				s.Tombstoned++
			} else {
				s.Files++
			}
			return true
		})
		s.LogEntries = len(store.Range(wsDoc, causallog.StateVector{}))
		summaries = append(summaries, s)
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"version":    buildinfo.String(),
		"workspaces": summaries,
	})
}

// handleAdminGC handles POST /admin/v1/gc/trigger: runs the tombstone
// collector for every live workspace. The peer-minimum vector is the
// workspace's own vector here — the conservative choice for an
// operator-triggered sweep, since the relay's log dominates every
// entry it has ever broadcast.
func (h *Handler) handleAdminGC(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().UnixMilli() - defaultGCGraceMillis
	removed := map[string][]string{}

	for _, wsID := range h.hub.Workspaces() {
		store, err := h.hub.Store(wsID)
		if err != nil {
			continue
		}
		wsDoc := docstore.WorkspaceDocID(wsID)
		paths := store.Workspace(wsDoc).Collect(cutoff, store.StateVector(wsDoc))
		if len(paths) > 0 {
			removed[wsID] = paths
		}
	}

	h.logger.Info("gc triggered", "workspaces", len(removed))
	h.writeJSON(w, r, http.StatusOK, map[string]any{"removed": removed})
}

// handleAdminSnapshotTrigger handles POST /admin/v1/backups/snapshots:
// captures a durable storage snapshot (and compacts the WAL) for the
// given workspace.
func (h *Handler) handleAdminSnapshotTrigger(w http.ResponseWriter, r *http.Request) {
	wsID := r.URL.Query().Get("workspace")
	if wsID == "" {
		h.writeJSON(w, r, http.StatusBadRequest, map[string]string{
			"code": "DX-ARG-1002", "message": "missing workspace parameter",
		})
		return
	}
	engine, err := h.hub.StorageEngine(wsID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	info, err := engine.TriggerSnapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, info)
}
