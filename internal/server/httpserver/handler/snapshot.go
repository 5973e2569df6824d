package handler

import (
	"io"
	"net/http"

	"github.com/diaryx/syncd/internal/archive"
	"github.com/diaryx/syncd/internal/core/domain"
)

// maxArchiveBytes bounds snapshot uploads.
const maxArchiveBytes = 512 << 20

// handleSnapshotDownload handles GET /api/workspaces/{id}/snapshot:
// the workspace's current materialized file tree as a zip archive,
// consistent with the state vector reported in the archive trailer.
func (h *Handler) handleSnapshotDownload(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")
	store, err := h.hub.Store(workspaceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, sv, err := archive.Build(store, workspaceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	svBytes, err := sv.Encode()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="workspace-`+workspaceID+`.zip"`)
	w.Header().Set("X-State-Vector", string(svBytes))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("write snapshot failed", "workspace_id", workspaceID, "error", err)
	}
}

// handleSnapshotUpload handles POST /api/workspaces/{id}/snapshot?mode=replace|merge.
// The archive is replayed through the CRDTs under the server's client
// id; nothing bypasses the causal log.
func (h *Handler) handleSnapshotUpload(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("id")
	mode, err := archive.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxArchiveBytes+1))
	if err != nil {
		h.writeError(w, r, domain.ErrBadRequest.WithDetails("read archive").WithCause(err))
		return
	}
	if len(data) > maxArchiveBytes {
		h.writeError(w, r, domain.ErrBadRequest.WithDetails("archive too large"))
		return
	}

	store, err := h.hub.Store(workspaceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	imported, err := archive.Import(store, workspaceID, data, mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("snapshot imported",
		"workspace_id", workspaceID,
		"mode", string(mode),
		"files_imported", imported)
	h.writeJSON(w, r, http.StatusOK, map[string]int{"files_imported": imported})
}
