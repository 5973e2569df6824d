package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/diaryx/syncd/internal/core/domain"
	"github.com/diaryx/syncd/internal/relay"
)

// Handler serves the relay's HTTP surface: health, the /sync2 upgrade,
// snapshot transfer, and the admin API.
type Handler struct {
	hub    *relay.Hub
	logger *slog.Logger

	mu         sync.Mutex
	shareCodes map[string]map[string]bool // workspace+code -> live session ids
}

// New creates a handler over the relay hub.
func New(hub *relay.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:        hub,
		logger:     logger,
		shareCodes: make(map[string]map[string]bool),
	}
}

func shareKey(workspaceID, code string) string {
	return workspaceID + "\x00" + code
}

func (h *Handler) sessionCodeActive(workspaceID, code string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.shareCodes[shareKey(workspaceID, code)]) > 0
}

func (h *Handler) trackSession(workspaceID, code, sessionID, clientID string, isHost bool) *relay.Session {
	sess := relay.NewSession(sessionID, clientID, code, isHost, 0)
	if code != "" {
		h.mu.Lock()
		key := shareKey(workspaceID, code)
		if h.shareCodes[key] == nil {
			h.shareCodes[key] = make(map[string]bool)
		}
		h.shareCodes[key][sessionID] = true
		h.mu.Unlock()
	}
	return sess
}

func (h *Handler) untrackSession(workspaceID, code, sessionID string) {
	if code == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key := shareKey(workspaceID, code)
	delete(h.shareCodes[key], sessionID)
	if len(h.shareCodes[key]) == 0 {
		delete(h.shareCodes, key)
	}
}

// Health exposes the health check as an http.HandlerFunc.
func (h *Handler) Health() http.HandlerFunc { return h.handleHealth }

// Ready exposes the readiness check.
func (h *Handler) Ready() http.HandlerFunc { return h.handleReady }

// Sync exposes the /sync2 WebSocket endpoint.
func (h *Handler) Sync() http.HandlerFunc { return h.handleSync }

// SnapshotDownload exposes the workspace archive download.
func (h *Handler) SnapshotDownload() http.HandlerFunc { return h.handleSnapshotDownload }

// SnapshotUpload exposes the workspace archive upload.
func (h *Handler) SnapshotUpload() http.HandlerFunc { return h.handleSnapshotUpload }

// AdminStatus exposes the admin status summary.
func (h *Handler) AdminStatus() http.HandlerFunc { return h.handleAdminStatus }

// AdminGC exposes the tombstone collector trigger.
func (h *Handler) AdminGC() http.HandlerFunc { return h.handleAdminGC }

// AdminSnapshotTrigger exposes the durable-snapshot trigger.
func (h *Handler) AdminSnapshotTrigger() http.HandlerFunc { return h.handleAdminSnapshotTrigger }

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response failed", "path", r.URL.Path, "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "DX-SYS-5000"
	message := "internal server error"

	var de *domain.DomainError
	if errors.As(err, &de) {
		code = de.Code
		message = de.Message
		switch {
		case domain.IsDomainError(err, domain.ErrBadRequest.Code),
			domain.IsDomainError(err, domain.ErrInvalidArgument.Code),
			domain.IsDomainError(err, domain.ErrSnapshotCorrupt.Code):
			status = http.StatusBadRequest
		case domain.IsDomainError(err, domain.ErrAuthRejected.Code):
			status = http.StatusUnauthorized
		case domain.IsDomainError(err, domain.ErrPathNotFound.Code),
			domain.IsDomainError(err, domain.ErrUnknownDocument.Code):
			status = http.StatusNotFound
		}
	}

	h.logger.Warn("request failed", "path", r.URL.Path, "code", code, "error", err)
	w.Header().Set("X-Error-Code", code)
	h.writeJSON(w, r, status, map[string]string{"code": code, "message": message})
}
