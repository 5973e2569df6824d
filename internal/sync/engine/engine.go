package engine

import (
	"errors"
	"strings"

	"github.com/diaryx/syncd/internal/core/domain"
	"github.com/diaryx/syncd/internal/storage/causallog"
	"github.com/diaryx/syncd/internal/storage/docstore"
	"github.com/diaryx/syncd/internal/sync/wire"
)

// Store is the document storage API the engine drives. docstore.Store
// satisfies it; tests may substitute their own.
type Store interface {
	RecordLocal(docID string, update []byte) (causallog.Envelope, error)
	ApplyRemote(docID string, env causallog.Envelope) (bool, error)
	Range(docID string, from causallog.StateVector) []causallog.Envelope
	StateVector(docID string) causallog.StateVector
	ImportSnapshot(docID string, snap []byte) error
}

// Config configures one engine instance.
type Config struct {
	// WorkspaceID is the workspace this engine syncs.
	WorkspaceID string

	// HandshakeRetryMillis is how long a pending handshake waits before
	// Tick re-sends Step1. Default 5000.
	HandshakeRetryMillis int64

	// BodySyncTimeoutMillis is how long a pending body request lives
	// before Tick ages it out. Default 10000.
	BodySyncTimeoutMillis int64
}

const (
	defaultHandshakeRetryMillis  = 5000
	defaultBodySyncTimeoutMillis = 10000
)

// bodySession tracks one lazily-synced body document.
type bodySession struct {
	docID        string
	synced       bool
	emptySent    bool
	emptyRecv    bool
	step1SentAt  int64
	requestedAt  int64
	oneShot      bool // requested via RequestBodySync, unfocused once synced
}

// Engine is the per-workspace sync state machine. Not safe for
// concurrent use: the transport adapter serializes all calls.
type Engine struct {
	store Store
	cfg   Config

	wsDoc string
	now   int64

	phase       Phase
	peerSV      causallog.StateVector
	step1SentAt int64
	emptySent   bool
	emptyRecv   bool

	bodies map[string]*bodySession
	focus  map[string]bool

	out Output
}

// New creates an engine for cfg.WorkspaceID in the Disconnected phase.
func New(store Store, cfg Config) *Engine {
	if cfg.HandshakeRetryMillis <= 0 {
		cfg.HandshakeRetryMillis = defaultHandshakeRetryMillis
	}
	if cfg.BodySyncTimeoutMillis <= 0 {
		cfg.BodySyncTimeoutMillis = defaultBodySyncTimeoutMillis
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		wsDoc:  docstore.WorkspaceDocID(cfg.WorkspaceID),
		phase:  PhaseDisconnected,
		peerSV: causallog.StateVector{},
		bodies: make(map[string]*bodySession),
		focus:  make(map[string]bool),
	}
}

// Phase returns the workspace session's current phase.
func (e *Engine) Phase() Phase { return e.phase }

// BodySynced reports whether docID has completed at least one full
// Step1/Step2 exchange since it was focused or requested. This is the
// predicate wait-for-body-sync callers poll on tick.
func (e *Engine) BodySynced(docID string) bool {
	bs, ok := e.bodies[docID]
	return ok && bs.synced
}

// Drain returns everything produced since the last drain, in emission
// order, and resets the queues.
func (e *Engine) Drain() Output {
	out := e.out
	e.out = Output{}
	return out
}

func (e *Engine) setPhase(p Phase) {
	if e.phase == p {
		return
	}
	e.phase = p
	e.out.Events = append(e.out.Events, Event{Kind: EventStatusChanged, Phase: p})
}

func (e *Engine) emitEvent(ev Event) {
	e.out.Events = append(e.out.Events, ev)
}

func (e *Engine) sendBinary(docID string, payload []byte) {
	frame, err := wire.EncodeFrame(docID, payload)
	if err != nil {
		e.emitEvent(Event{Kind: EventError, Err: err})
		return
	}
	e.out.Binary = append(e.out.Binary, frame)
}

func (e *Engine) sendControl(c wire.Control) {
	s, err := wire.EncodeControl(c)
	if err != nil {
		e.emitEvent(Event{Kind: EventError, Err: err})
		return
	}
	e.out.Text = append(e.out.Text, s)
}

func (e *Engine) sendStep1(docID string) {
	payload, err := wire.EncodeStep1(e.store.StateVector(docID))
	if err != nil {
		e.emitEvent(Event{Kind: EventError, Err: err})
		return
	}
	e.sendBinary(docID, payload)
}

// poison marks the workspace session terminally broken. Only an
// IntegrityViolation from the log lands here; every other error keeps
// the session reconnection-eligible.
func (e *Engine) poison(err error) {
	e.setPhase(PhasePoisoned)
	e.emitEvent(Event{Kind: EventError, Err: domain.ErrSessionPoisoned.WithCause(err)})
}

// protocolViolation reports an undecodable frame: the session closes
// with code 4400 and the adapter must not auto-reconnect to the same
// URL.
func (e *Engine) protocolViolation(err error) {
	e.emitEvent(Event{Kind: EventError, Err: err})
	e.out.Actions = append(e.out.Actions, Action{
		Kind:   ActionCloseSession,
		Code:   wire.CloseUnsupportedProtocol,
		Reason: "protocol violation",
	})
}

// OnConnecting notes that the adapter started dialing.
func (e *Engine) OnConnecting() {
	if e.phase == PhasePoisoned {
		return
	}
	e.setPhase(PhaseConnecting)
}

// OnConnected starts the workspace handshake and re-registers any
// focused body documents (their log state reconciles via Step1, so no
// queue replay is needed).
func (e *Engine) OnConnected() {
	if e.phase == PhasePoisoned {
		return
	}
	e.emptySent = false
	e.emptyRecv = false
	e.setPhase(PhaseHandshake1)
	e.sendStep1(e.wsDoc)
	e.step1SentAt = e.now

	if len(e.focus) > 0 {
		files := make([]string, 0, len(e.focus))
		for docID := range e.focus {
			files = append(files, docID)
		}
		e.sendControl(wire.Control{Type: wire.TypeFocus, Files: files})
	}
	for docID, bs := range e.bodies {
		if bs.oneShot {
			// One-shot requests don't survive a reconnect; callers
			// re-issue them if still wanted.
			delete(e.bodies, docID)
			continue
		}
		bs.synced = false
		bs.emptySent = false
		bs.emptyRecv = false
		bs.step1SentAt = e.now
		bs.requestedAt = e.now
		e.sendStep1(docID)
	}
}

// OnDisconnected drops the outgoing frame queues. Local updates are
// already in the causal log, so reconnecting re-sends Step1 rather
// than replaying a queue.
func (e *Engine) OnDisconnected() {
	e.out.Binary = nil
	e.out.Text = nil
	if e.phase != PhasePoisoned {
		e.setPhase(PhaseDisconnected)
	}
}

// OnSnapshotImported resumes the bootstrap after the adapter finished
// downloading and importing the workspace archive: announce readiness
// and re-offer our (now much larger) state vector.
func (e *Engine) OnSnapshotImported() {
	if e.phase == PhasePoisoned {
		return
	}
	e.sendControl(wire.Control{Type: wire.TypeFilesReady})
	e.sendStep1(e.wsDoc)
	e.step1SentAt = e.now
	e.setPhase(PhaseSyncing)
}

// OnSnapshotFailed proceeds to plain CRDT sync when the bootstrap
// archive could not be fetched. Best-effort: the full log streams over
// Step2 instead.
func (e *Engine) OnSnapshotFailed(err error) {
	if e.phase == PhasePoisoned {
		return
	}
	e.emitEvent(Event{Kind: EventWarning, Err: domain.ErrSnapshotDownloadFailed.WithCause(err)})
	e.sendControl(wire.Control{Type: wire.TypeFilesReady})
	e.sendStep1(e.wsDoc)
	e.step1SentAt = e.now
	e.setPhase(PhaseSyncing)
}

// QueueLocalUpdate records an editor-produced update in the causal log
// and, when the session is live, broadcasts it. While disconnected the
// log retains it and the next Step1 exchange reconciles.
func (e *Engine) QueueLocalUpdate(docID string, update []byte) error {
	env, err := e.store.RecordLocal(docID, update)
	if err != nil {
		if errors.Is(err, domain.ErrIntegrityViolation) {
			e.poison(err)
		}
		return err
	}

	live := e.phase == PhaseSyncing || e.phase == PhaseSynced || e.phase == PhaseBootstrappingFiles
	if !live {
		return nil
	}
	if strings.HasPrefix(docID, docstore.DocKindBody) {
		// The relay drops body frames for unfocused documents.
		if _, ok := e.bodies[docID]; !ok {
			return nil
		}
	}
	payload, err := wire.EncodeUpdate(env)
	if err != nil {
		return err
	}
	e.sendBinary(docID, payload)
	return nil
}

// Focus declares interest in body documents: the relay starts
// forwarding their updates and the engine opens a body handshake for
// each.
func (e *Engine) Focus(docIDs []string) {
	var fresh []string
	for _, docID := range docIDs {
		if e.focus[docID] {
			continue
		}
		e.focus[docID] = true
		fresh = append(fresh, docID)
	}
	if len(fresh) == 0 {
		return
	}
	e.sendControl(wire.Control{Type: wire.TypeFocus, Files: fresh})
	for _, docID := range fresh {
		bs, ok := e.bodies[docID]
		if !ok {
			bs = &bodySession{docID: docID}
			e.bodies[docID] = bs
		}
		bs.oneShot = false
		bs.requestedAt = e.now
		bs.step1SentAt = e.now
		e.sendStep1(docID)
	}
}

// Unfocus withdraws interest: the relay stops forwarding updates for
// these documents to us.
func (e *Engine) Unfocus(docIDs []string) {
	var dropped []string
	for _, docID := range docIDs {
		if !e.focus[docID] {
			continue
		}
		delete(e.focus, docID)
		delete(e.bodies, docID)
		dropped = append(dropped, docID)
	}
	if len(dropped) > 0 {
		e.sendControl(wire.Control{Type: wire.TypeUnfocus, Files: dropped})
	}
}

// RequestBodySync fetches body documents once without keeping them
// focused: each is focused for the duration of its handshake and
// unfocused as soon as it reports synced (or ages out on tick).
func (e *Engine) RequestBodySync(docIDs []string) {
	var fresh []string
	for _, docID := range docIDs {
		if e.focus[docID] {
			continue
		}
		if _, ok := e.bodies[docID]; ok {
			continue
		}
		e.bodies[docID] = &bodySession{
			docID:       docID,
			oneShot:     true,
			requestedAt: e.now,
			step1SentAt: e.now,
		}
		fresh = append(fresh, docID)
	}
	if len(fresh) == 0 {
		return
	}
	e.sendControl(wire.Control{Type: wire.TypeFocus, Files: fresh})
	for _, docID := range fresh {
		e.sendStep1(docID)
	}
}

// Tick injects the environment's clock: pending handshakes retry and
// stale body requests age out. The engine has no timers of its own.
func (e *Engine) Tick(nowMillis int64) {
	e.now = nowMillis

	if e.phase == PhaseHandshake1 && nowMillis-e.step1SentAt >= e.cfg.HandshakeRetryMillis {
		e.sendStep1(e.wsDoc)
		e.step1SentAt = nowMillis
	}

	for docID, bs := range e.bodies {
		if bs.synced {
			continue
		}
		if nowMillis-bs.requestedAt >= e.cfg.BodySyncTimeoutMillis {
			e.emitEvent(Event{
				Kind:  EventWarning,
				DocID: docID,
				Err:   domain.ErrBodySyncTimeout.WithDetails(docID),
			})
			if bs.oneShot {
				delete(e.bodies, docID)
				e.sendControl(wire.Control{Type: wire.TypeUnfocus, Files: []string{docID}})
			} else {
				// Focused documents retry instead of aging out.
				bs.requestedAt = nowMillis
				bs.step1SentAt = nowMillis
				e.sendStep1(docID)
			}
		}
	}
}

// InjectBinary processes one inbound binary frame in receipt order.
func (e *Engine) InjectBinary(raw []byte) {
	if e.phase == PhasePoisoned {
		return
	}
	frame, err := wire.DecodeFrame(raw)
	if err != nil {
		e.protocolViolation(err)
		return
	}
	msg, err := wire.DecodeSync(frame.Payload)
	if err != nil {
		e.protocolViolation(err)
		return
	}

	if frame.DocID == e.wsDoc {
		e.handleWorkspaceSync(msg)
		return
	}
	if strings.HasPrefix(frame.DocID, docstore.DocKindBody) {
		e.handleBodySync(frame.DocID, msg)
		return
	}
	e.protocolViolation(domain.ErrProtocolViolation.WithDetails("frame for unknown document " + frame.DocID))
}

func (e *Engine) handleWorkspaceSync(msg wire.SyncMessage) {
	switch msg.Sub {
	case wire.SubStep1:
		// Peer offered its vector: answer with a covering Step2.
		e.peerSV = msg.SV.Clone()
		e.replyStep2(e.wsDoc, msg.SV, &e.emptySent)
		e.checkWorkspaceSynced()

	case wire.SubStep2:
		if len(msg.Updates) == 0 {
			e.emptyRecv = true
		}
		for _, env := range msg.Updates {
			if !e.applyEnvelope(e.wsDoc, env) {
				return
			}
		}
		e.peerSV = msg.SV.Clone()
		if e.phase == PhaseHandshake1 || e.phase == PhaseHandshake2 || e.phase == PhaseBootstrappingFiles {
			e.setPhase(PhaseSyncing)
		}
		e.replyStep2IfUseful(e.wsDoc, msg.SV, &e.emptySent)
		e.checkWorkspaceSynced()

	case wire.SubUpdate:
		e.applyEnvelope(e.wsDoc, msg.Update)
	}
}

func (e *Engine) handleBodySync(docID string, msg wire.SyncMessage) {
	bs, ok := e.bodies[docID]
	if !ok {
		// Not focused here (e.g. a late frame after unfocus): apply
		// updates anyway — they're idempotent — but keep no session.
		if msg.Sub == wire.SubUpdate {
			e.applyEnvelope(docID, msg.Update)
		}
		return
	}

	switch msg.Sub {
	case wire.SubStep1:
		e.replyStep2(docID, msg.SV, &bs.emptySent)

	case wire.SubStep2:
		if len(msg.Updates) == 0 {
			bs.emptyRecv = true
		}
		for _, env := range msg.Updates {
			if !e.applyEnvelope(docID, env) {
				return
			}
		}
		e.replyStep2IfUseful(docID, msg.SV, &bs.emptySent)
		// One full exchange is enough to call the body synced: we have
		// everything the server had at its send vector.
		e.markBodySynced(bs)

	case wire.SubUpdate:
		e.applyEnvelope(docID, msg.Update)
	}
}

func (e *Engine) markBodySynced(bs *bodySession) {
	if bs.synced {
		return
	}
	bs.synced = true
	e.emitEvent(Event{Kind: EventBodySynced, DocID: bs.docID})
	if bs.oneShot {
		// The session entry survives (BodySynced keeps answering true);
		// only the relay-side focus is withdrawn.
		e.sendControl(wire.Control{Type: wire.TypeUnfocus, Files: []string{bs.docID}})
	}
}

// applyEnvelope merges one envelope; returns false if the session was
// poisoned by it.
func (e *Engine) applyEnvelope(docID string, env causallog.Envelope) bool {
	if _, err := e.store.ApplyRemote(docID, env); err != nil {
		if errors.Is(err, domain.ErrIntegrityViolation) {
			e.poison(err)
			return false
		}
		e.emitEvent(Event{Kind: EventError, Err: err})
	}
	return true
}

// replyStep2 always answers, including with an empty delta (the empty
// reply is the caught-up signal).
func (e *Engine) replyStep2(docID string, peerSV causallog.StateVector, emptySent *bool) {
	delta := e.store.Range(docID, peerSV)
	payload, err := wire.EncodeStep2(e.store.StateVector(docID), delta)
	if err != nil {
		e.emitEvent(Event{Kind: EventError, Err: err})
		return
	}
	if len(delta) == 0 {
		*emptySent = true
	}
	e.sendBinary(docID, payload)
}

// replyStep2IfUseful answers a received Step2: with a delta when we
// hold updates the peer lacks, with a single empty Step2 the first
// time we have nothing left to offer, and with silence afterwards so
// two caught-up replicas don't ping-pong empties forever.
func (e *Engine) replyStep2IfUseful(docID string, peerSV causallog.StateVector, emptySent *bool) {
	delta := e.store.Range(docID, peerSV)
	if len(delta) == 0 && *emptySent {
		return
	}
	payload, err := wire.EncodeStep2(e.store.StateVector(docID), delta)
	if err != nil {
		e.emitEvent(Event{Kind: EventError, Err: err})
		return
	}
	if len(delta) == 0 {
		*emptySent = true
	}
	e.sendBinary(docID, payload)
}

func (e *Engine) checkWorkspaceSynced() {
	if e.emptySent && e.emptyRecv && e.phase != PhaseSynced {
		e.setPhase(PhaseSynced)
	}
}

// InjectText processes one inbound JSON control message.
func (e *Engine) InjectText(s string) {
	if e.phase == PhasePoisoned {
		return
	}
	c, err := wire.DecodeControl(s)
	if err != nil {
		e.protocolViolation(err)
		return
	}

	switch c.Type {
	case wire.TypeFileManifest:
		if c.ClientIsNew {
			e.out.Actions = append(e.out.Actions, Action{Kind: ActionDownloadSnapshot})
			e.setPhase(PhaseBootstrappingFiles)
			return
		}
		e.sendControl(wire.Control{Type: wire.TypeFilesReady})
		e.setPhase(PhaseBootstrappingFiles)

	case wire.TypeCrdtState:
		// Inline bootstrap fallback when the archive path is
		// unavailable: import the pushed state directly.
		snap, err := c.StateBytes()
		if err != nil {
			e.protocolViolation(err)
			return
		}
		docID := c.DocID
		if docID == "" {
			docID = e.wsDoc
		}
		if err := e.store.ImportSnapshot(docID, snap); err != nil {
			if errors.Is(err, domain.ErrIntegrityViolation) {
				e.poison(err)
				return
			}
			e.emitEvent(Event{Kind: EventError, Err: err})
			return
		}
		if docID == e.wsDoc {
			e.OnSnapshotImported()
		}

	case wire.TypeSyncProgress:
		e.emitEvent(Event{Kind: EventProgress, Completed: c.Completed, Total: c.Total})

	case wire.TypeSyncComplete:
		e.emitEvent(Event{Kind: EventSyncComplete, Total: c.FilesSynced})
		for _, bs := range e.bodies {
			e.markBodySynced(bs)
		}

	case wire.TypeFocusListChanged:
		e.emitEvent(Event{Kind: EventFocusListChanged, Files: c.Files})

	case wire.TypePeerJoined:
		e.emitEvent(Event{Kind: EventPeerJoined, ClientID: c.ClientID})

	case wire.TypePeerLeft:
		e.emitEvent(Event{Kind: EventPeerLeft, ClientID: c.ClientID})

	case wire.TypeSessionJoined:
		e.emitEvent(Event{Kind: EventSessionJoined, ClientID: c.ClientID})

	case wire.TypeSessionEnded:
		e.emitEvent(Event{Kind: EventSessionEnded})

	case wire.TypeFilesReady, wire.TypeFocus, wire.TypeUnfocus:
		// Server-bound messages; a client receiving one ignores it.
	}
}
