package relay

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/diaryx/syncd/internal/core/domain"
	"github.com/diaryx/syncd/internal/crdt/workspace"
	"github.com/diaryx/syncd/internal/storage/causallog"
	"github.com/diaryx/syncd/internal/storage/docstore"
	"github.com/diaryx/syncd/internal/sync/wire"
)

// mailboxSize bounds an actor's inbox. Posting blocks when the actor
// is saturated, which backpressures the socket readers feeding it.
const mailboxSize = 1024

type msgKind int

const (
	msgJoin msgKind = iota
	msgLeave
	msgBinary
	msgText
	msgStop
)

type message struct {
	kind    msgKind
	session *Session
	sessID  string
	binary  []byte
	text    string
}

// sessionState is the actor's bookkeeping for one connected session.
type sessionState struct {
	sess *Session

	// ready is set once the session has sent FilesReady; Step2 is not
	// streamed before that.
	ready bool

	// offeredSV is the vector from the session's latest workspace
	// Step1, used to compute its Step2 delta once ready.
	offeredSV causallog.StateVector

	// step1Pending is set when a Step1 arrived before FilesReady.
	step1Pending bool

	// emptySent records, per document, that the caught-up empty Step2
	// has been sent, so two caught-up ends don't ping-pong empties.
	emptySent map[string]bool

	// focus is the set of body doc-ids this session wants forwarded.
	focus map[string]bool
}

// Actor is the per-workspace authority: it owns the workspace's causal
// logs (through a server-side document store), fans updates out to
// connected sessions, and maintains the focus map.
type Actor struct {
	workspaceID string
	wsDoc       string
	store       *docstore.Store
	logger      *slog.Logger
	metrics     *Metrics

	mailbox chan message
	stopped chan struct{}

	// Everything below is owned by the actor goroutine.
	sessions map[string]*sessionState
	hostID   string
}

// NewActor creates and starts the actor for workspaceID. store is the
// server's replica (updates the relay itself mints, e.g. snapshot
// imports, carry the store's client id).
func NewActor(workspaceID string, store *docstore.Store, logger *slog.Logger, metrics *Metrics) *Actor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Actor{
		workspaceID: workspaceID,
		wsDoc:       docstore.WorkspaceDocID(workspaceID),
		store:       store,
		logger:      logger.With("workspace_id", workspaceID),
		metrics:     metrics,
		mailbox:     make(chan message, mailboxSize),
		stopped:     make(chan struct{}),
		sessions:    make(map[string]*sessionState),
	}
	go a.run()
	return a
}

// Join registers a connected session with the actor.
func (a *Actor) Join(sess *Session) {
	a.post(message{kind: msgJoin, session: sess})
}

// Leave removes a session (socket closed or kicked).
func (a *Actor) Leave(sessionID string) {
	a.post(message{kind: msgLeave, sessID: sessionID})
}

// OnBinary hands one inbound binary frame to the actor.
func (a *Actor) OnBinary(sessionID string, frame []byte) {
	a.post(message{kind: msgBinary, sessID: sessionID, binary: frame})
}

// OnText hands one inbound text frame to the actor.
func (a *Actor) OnText(sessionID string, text string) {
	a.post(message{kind: msgText, sessID: sessionID, text: text})
}

// Stop shuts the actor down after draining its mailbox.
func (a *Actor) Stop() {
	a.post(message{kind: msgStop})
	<-a.stopped
}

func (a *Actor) post(m message) {
	select {
	case a.mailbox <- m:
	case <-a.stopped:
	}
}

func (a *Actor) run() {
	defer close(a.stopped)
	for m := range a.mailbox {
		switch m.kind {
		case msgJoin:
			a.handleJoin(m.session)
		case msgLeave:
			a.handleLeave(m.sessID)
		case msgBinary:
			a.handleBinary(m.sessID, m.binary)
		case msgText:
			a.handleText(m.sessID, m.text)
		case msgStop:
			for _, st := range a.sessions {
				st.sess.Close(wire.CloseClean, "relay shutting down")
			}
			return
		}
	}
}

func (a *Actor) handleJoin(sess *Session) {
	a.sessions[sess.ID()] = &sessionState{
		sess:      sess,
		emptySent: make(map[string]bool),
		focus:     make(map[string]bool),
	}
	if a.metrics != nil {
		a.metrics.SessionsConnected.Inc()
	}

	if sess.SessionCode() != "" {
		if sess.IsHost() {
			a.hostID = sess.ID()
		}
		a.broadcastControl(sess.ID(), wire.Control{
			Type:        wire.TypeSessionJoined,
			ClientID:    sess.ClientID(),
			SessionCode: sess.SessionCode(),
		})
	} else {
		a.broadcastControl(sess.ID(), wire.Control{
			Type:     wire.TypePeerJoined,
			ClientID: sess.ClientID(),
		})
	}

	a.logger.Info("session joined",
		"session_id", sess.ID(),
		"client_id", sess.ClientID(),
		"peers", len(a.sessions))
}

func (a *Actor) handleLeave(sessionID string) {
	st, ok := a.sessions[sessionID]
	if !ok {
		return
	}
	delete(a.sessions, sessionID)
	if a.metrics != nil {
		a.metrics.SessionsConnected.Dec()
	}

	if len(st.focus) > 0 {
		a.broadcastFocusList()
	}
	a.broadcastControl(sessionID, wire.Control{
		Type:     wire.TypePeerLeft,
		ClientID: st.sess.ClientID(),
	})

	// A share-session ends for the guests when its host leaves.
	if sessionID == a.hostID {
		a.hostID = ""
		a.broadcastControl(sessionID, wire.Control{Type: wire.TypeSessionEnded})
	}

	a.logger.Info("session left", "session_id", sessionID, "peers", len(a.sessions))
}

func (a *Actor) handleBinary(sessionID string, raw []byte) {
	st, ok := a.sessions[sessionID]
	if !ok {
		return
	}
	if !st.sess.AllowFrame() {
		a.closeSession(st, wire.CloseTransient, "frame rate exceeded")
		return
	}

	frame, err := wire.DecodeFrame(raw)
	if err != nil {
		a.closeSession(st, wire.CloseUnsupportedProtocol, "unsupported protocol version")
		return
	}
	msg, err := wire.DecodeSync(frame.Payload)
	if err != nil {
		a.closeSession(st, wire.CloseUnsupportedProtocol, "unsupported protocol version")
		return
	}

	switch {
	case frame.DocID == a.wsDoc:
		a.handleWorkspaceSync(st, msg)
	case strings.HasPrefix(frame.DocID, docstore.DocKindBody):
		if !st.focus[frame.DocID] {
			// Body frames are only accepted from sessions focusing the
			// document.
			a.logger.Warn("body frame without focus",
				"session_id", sessionID, "doc_id", frame.DocID)
			return
		}
		a.handleBodySync(st, frame.DocID, msg)
	default:
		a.closeSession(st, wire.CloseUnsupportedProtocol, "unknown document")
	}
}

func (a *Actor) handleWorkspaceSync(st *sessionState, msg wire.SyncMessage) {
	switch msg.Sub {
	case wire.SubStep1:
		st.offeredSV = msg.SV.Clone()
		if !st.ready {
			// First Step1: answer with the manifest. Step2 streams only
			// after FilesReady. A further Step1 before FilesReady (the
			// client re-offering its vector after a snapshot import)
			// just refreshes the offered vector.
			if !st.step1Pending {
				st.step1Pending = true
				a.sendControl(st, wire.Control{
					Type:        wire.TypeFileManifest,
					ClientIsNew: len(msg.SV) == 0,
					Manifest:    a.buildManifest(),
				})
			}
			return
		}
		a.sendStep2(st, a.wsDoc, msg.SV)

	case wire.SubStep2:
		a.applyAndBroadcast(st, a.wsDoc, msg.Updates)
		// The client's Step2 carries its current vector: answer with
		// whatever it still lacks, or a single empty Step2 as the
		// caught-up signal.
		st.offeredSV = msg.SV.Clone()
		a.answerStep2(st, a.wsDoc, msg.SV)

	case wire.SubUpdate:
		a.applyAndBroadcast(st, a.wsDoc, []causallog.Envelope{msg.Update})
	}
}

// answerStep2 replies to a received Step2: a covering delta while the
// session is behind, one empty Step2 once it is caught up, silence
// afterwards.
func (a *Actor) answerStep2(st *sessionState, docID string, clientSV causallog.StateVector) {
	delta := a.store.Range(docID, clientSV)
	if len(delta) == 0 && st.emptySent[docID] {
		return
	}
	if len(delta) == 0 {
		st.emptySent[docID] = true
	}
	payload, err := wire.EncodeStep2(a.store.StateVector(docID), delta)
	if err != nil {
		a.logger.Error("encode step2 failed", "doc_id", docID, "error", err)
		return
	}
	frame, err := wire.EncodeFrame(docID, payload)
	if err != nil {
		a.logger.Error("encode frame failed", "doc_id", docID, "error", err)
		return
	}
	a.enqueueBinary(st, frame)
}

func (a *Actor) handleBodySync(st *sessionState, docID string, msg wire.SyncMessage) {
	switch msg.Sub {
	case wire.SubStep1:
		a.sendStep2(st, docID, msg.SV)
	case wire.SubStep2:
		a.applyAndBroadcast(st, docID, msg.Updates)
		a.answerStep2(st, docID, msg.SV)
	case wire.SubUpdate:
		a.applyAndBroadcast(st, docID, []causallog.Envelope{msg.Update})
	}
}

func (a *Actor) handleText(sessionID string, text string) {
	st, ok := a.sessions[sessionID]
	if !ok {
		return
	}
	if !st.sess.AllowFrame() {
		a.closeSession(st, wire.CloseTransient, "frame rate exceeded")
		return
	}

	c, err := wire.DecodeControl(text)
	if err != nil {
		a.closeSession(st, wire.CloseUnsupportedProtocol, "unsupported protocol version")
		return
	}

	switch c.Type {
	case wire.TypeFilesReady:
		st.ready = true
		if st.step1Pending {
			st.step1Pending = false
			a.sendStep2(st, a.wsDoc, st.offeredSV)
			a.sendProgress(st)
		}

	case wire.TypeFocus:
		changed := false
		for _, docID := range c.Files {
			if !strings.HasPrefix(docID, docstore.DocKindBody) {
				continue
			}
			if !st.focus[docID] {
				st.focus[docID] = true
				changed = true
				// Push the server's current state for each newly
				// focused body; the client's own Step1 closes the
				// reverse direction.
				a.sendStep2(st, docID, causallog.StateVector{})
			}
		}
		if changed {
			a.broadcastFocusList()
		}

	case wire.TypeUnfocus:
		changed := false
		for _, docID := range c.Files {
			if st.focus[docID] {
				delete(st.focus, docID)
				changed = true
			}
		}
		if changed {
			a.broadcastFocusList()
		}

	default:
		// Clients don't originate other control types; tolerate and log
		// rather than kick, the message is harmless.
		a.logger.Warn("unexpected control from client",
			"session_id", sessionID, "type", c.Type)
	}
}

// applyAndBroadcast durably appends each envelope and fans it out to
// every *other* session interested in the document. Broadcast happens
// strictly after the append: a crash in between loses only the
// broadcast, and the originator re-offers on reconnect.
//
// Transient storage errors are retried with backoff; persistent
// failure poisons the actor, which closes every session with a
// retriable code.
func (a *Actor) applyAndBroadcast(from *sessionState, docID string, envs []causallog.Envelope) {
	for _, env := range envs {
		applied, err := a.applyWithRetry(docID, env)
		if err != nil {
			a.logger.Error("apply update failed",
				"doc_id", docID, "client_id", env.ClientID, "clock", env.Clock, "error", err)
			if domain.IsDomainError(err, domain.ErrStorageUnavailable.Code) {
				a.poisonAllSessions()
				return
			}
			continue
		}
		if !applied {
			// Duplicate; already broadcast when first seen.
			continue
		}
		if a.metrics != nil {
			a.metrics.UpdatesAppended.Inc()
		}

		payload, err := wire.EncodeUpdate(env)
		if err != nil {
			a.logger.Error("encode update failed", "doc_id", docID, "error", err)
			continue
		}
		frame, err := wire.EncodeFrame(docID, payload)
		if err != nil {
			a.logger.Error("encode frame failed", "doc_id", docID, "error", err)
			continue
		}

		for id, other := range a.sessions {
			if id == from.sess.ID() {
				continue
			}
			if strings.HasPrefix(docID, docstore.DocKindBody) && !other.focus[docID] {
				// Unfocused bodies are not forwarded (backpressure).
				continue
			}
			if docID == a.wsDoc && !other.ready {
				// Still bootstrapping; Step2 after FilesReady covers it.
				continue
			}
			a.enqueueBinary(other, frame)
			if a.metrics != nil {
				a.metrics.UpdatesBroadcast.Inc()
			}
		}
	}
}

// applyWithRetry retries transient storage failures a few times with
// backoff before giving up.
func (a *Actor) applyWithRetry(docID string, env causallog.Envelope) (bool, error) {
	var applied bool
	var err error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		applied, err = a.store.ApplyRemote(docID, env)
		if err == nil || !domain.IsDomainError(err, domain.ErrStorageUnavailable.Code) {
			return applied, err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return applied, err
}

// poisonAllSessions kicks every session with a retriable code after
// persistent storage failure; clients reconnect once the relay is
// healthy again.
func (a *Actor) poisonAllSessions() {
	for _, st := range a.sessions {
		st.sess.Close(wire.CloseTransient, "storage unavailable")
		if a.metrics != nil {
			a.metrics.SessionsConnected.Dec()
		}
	}
	a.sessions = make(map[string]*sessionState)
}

func (a *Actor) sendStep2(st *sessionState, docID string, from causallog.StateVector) {
	delta := a.store.Range(docID, from)
	payload, err := wire.EncodeStep2(a.store.StateVector(docID), delta)
	if err != nil {
		a.logger.Error("encode step2 failed", "doc_id", docID, "error", err)
		return
	}
	frame, err := wire.EncodeFrame(docID, payload)
	if err != nil {
		a.logger.Error("encode frame failed", "doc_id", docID, "error", err)
		return
	}
	a.enqueueBinary(st, frame)
}

// sendProgress reports bootstrap progress after the initial Step2: the
// workspace metadata is fully streamed at that point, so completed ==
// total.
func (a *Actor) sendProgress(st *sessionState) {
	total := a.fileCount()
	a.sendControl(st, wire.Control{Type: wire.TypeSyncProgress, Completed: total, Total: total})
	a.sendControl(st, wire.Control{Type: wire.TypeSyncComplete, FilesSynced: total})
}

func (a *Actor) fileCount() int {
	n := 0
	a.store.Workspace(a.wsDoc).Iter(func(v workspace.View) bool {
		if !v.Tombstoned {
			n++
		}
		return true
	})
	return n
}

func (a *Actor) buildManifest() []wire.ManifestFile {
	var files []wire.ManifestFile
	a.store.Workspace(a.wsDoc).Iter(func(v workspace.View) bool {
		if v.Tombstoned {
			return true
		}
		f := wire.ManifestFile{Path: v.Path}
		if v.Title != nil {
			f.Title = *v.Title
		}
		files = append(files, f)
		return true
	})
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

// broadcastFocusList tells every session the union of focused files.
func (a *Actor) broadcastFocusList() {
	union := make(map[string]bool)
	for _, st := range a.sessions {
		for docID := range st.focus {
			union[docID] = true
		}
	}
	files := make([]string, 0, len(union))
	for docID := range union {
		files = append(files, docID)
	}
	sort.Strings(files)

	c := wire.Control{Type: wire.TypeFocusListChanged, Files: files}
	for _, st := range a.sessions {
		a.sendControl(st, c)
	}
}

// broadcastControl sends c to every session except exceptID.
func (a *Actor) broadcastControl(exceptID string, c wire.Control) {
	for id, st := range a.sessions {
		if id == exceptID {
			continue
		}
		a.sendControl(st, c)
	}
}

func (a *Actor) sendControl(st *sessionState, c wire.Control) {
	s, err := wire.EncodeControl(c)
	if err != nil {
		a.logger.Error("encode control failed", "type", c.Type, "error", err)
		return
	}
	if !st.sess.EnqueueText(s) {
		a.closeSession(st, wire.CloseBacklogExceeded, "session backlog exceeded")
	}
}

func (a *Actor) enqueueBinary(st *sessionState, frame []byte) {
	if !st.sess.EnqueueBinary(frame) {
		a.closeSession(st, wire.CloseBacklogExceeded, "session backlog exceeded")
	}
}

// closeSession kicks one session without letting its backlog affect
// the others.
func (a *Actor) closeSession(st *sessionState, code int, reason string) {
	if _, ok := a.sessions[st.sess.ID()]; !ok {
		return
	}
	st.sess.Close(code, reason)
	if a.metrics != nil && code == wire.CloseBacklogExceeded {
		a.metrics.BacklogCloses.Inc()
	}
	a.handleLeave(st.sess.ID())
}
