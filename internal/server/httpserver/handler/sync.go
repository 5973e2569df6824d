package handler

import (
	"net/http"

	"github.com/diaryx/syncd/internal/sync/identity"
	"github.com/diaryx/syncd/internal/sync/wire"
	"github.com/diaryx/syncd/internal/transport/ws"
)

// handleSync handles the /sync2 WebSocket endpoint. The query string
// carries credentials and addressing only; there is no path-based
// routing. The endpoint name is the wire version: unknown framing on
// /sync2 closes with 4400.
func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	workspaceID := q.Get("workspace")
	if workspaceID == "" {
		http.Error(w, "missing workspace", http.StatusBadRequest)
		return
	}
	clientID := q.Get("client")
	if clientID == "" {
		clientID = identity.NewClientID()
	}
	sessionCode := q.Get("session")

	actor, err := h.hub.Actor(workspaceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := ws.Upgrade(w, r)
	if err != nil {
		h.logger.Warn("upgrade failed", "workspace_id", workspaceID, "error", err)
		return
	}

	// The first joiner with a share code hosts it; later joiners with
	// the same code are guests whose session ends when the host leaves.
	isHost := sessionCode != "" && !h.sessionCodeActive(workspaceID, sessionCode)
	sess := h.trackSession(workspaceID, sessionCode,
		identity.NewSessionID(), clientID, isHost)
	actor.Join(sess)

	h.logger.Info("sync session opened",
		"workspace_id", workspaceID,
		"session_id", sess.ID(),
		"client_id", clientID)

	// Writer: drain the actor's bounded queue onto the socket.
	go func() {
		for {
			select {
			case out := <-sess.Out():
				var err error
				if out.Binary != nil {
					err = conn.WriteBinary(out.Binary)
				} else {
					err = conn.WriteText(out.Text)
				}
				if err != nil {
					sess.Close(wire.CloseTransient, "write failed")
					conn.Close()
					return
				}
			case <-sess.Done():
				code, reason := sess.CloseState()
				conn.WriteClose(code, reason)
				conn.Close()
				return
			}
		}
	}()

	// Reader: socket frames into the actor, in receive order.
	for {
		op, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch op {
		case ws.OpBinary:
			actor.OnBinary(sess.ID(), payload)
		case ws.OpText:
			actor.OnText(sess.ID(), string(payload))
		}
	}

	actor.Leave(sess.ID())
	sess.Close(wire.CloseClean, "")
	h.untrackSession(workspaceID, sessionCode, sess.ID())
	conn.Close()

	h.logger.Info("sync session closed",
		"workspace_id", workspaceID,
		"session_id", sess.ID())
}
