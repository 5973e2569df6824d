// Package transport owns everything the sync engine must not: the
// WebSocket lifecycle, reconnection backoff, timers, and the HTTP
// snapshot transfers. It feeds the engine inbound frames and clock
// ticks, drains its outputs to the socket, and executes its actions.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/diaryx/syncd/internal/archive"
	"github.com/diaryx/syncd/internal/core/domain"
	"github.com/diaryx/syncd/internal/storage/docstore"
	syncengine "github.com/diaryx/syncd/internal/sync/engine"
	"github.com/diaryx/syncd/internal/sync/wire"
	"github.com/diaryx/syncd/internal/transport/ws"
)

// Config configures a client transport adapter.
type Config struct {
	// ServerURL is the WebSocket base, e.g. "wss://relay.example.com".
	ServerURL string

	// HTTPBaseURL is the HTTP base for snapshot transfers. Defaults to
	// ServerURL with the scheme swapped.
	HTTPBaseURL string

	// Token is the bearer credential, carried in the /sync2 query
	// string and the snapshot Authorization header.
	Token string

	// SessionCode optionally joins a live-collaboration session.
	SessionCode string

	// WorkspaceID selects the workspace to sync.
	WorkspaceID string

	// TickInterval drives engine.Tick. Default 1s.
	TickInterval time.Duration

	// InitialBackoff and MaxBackoff bound the reconnect schedule.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration

	// HTTPClient overrides the snapshot transfer client.
	HTTPClient *http.Client

	// Logger is the structured logger.
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.HTTPBaseURL == "" {
		c.HTTPBaseURL = httpBaseFromWS(c.ServerURL)
	}
}

func httpBaseFromWS(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	return u.String()
}

// Adapter drives one engine over one (reconnecting) socket. All engine
// calls are serialized under mu, honoring the engine's single-threaded
// contract.
type Adapter struct {
	cfg    Config
	store  *docstore.Store
	logger *slog.Logger

	mu  sync.Mutex
	eng *syncengine.Engine

	pumpMu sync.Mutex

	connMu sync.Mutex
	conn   *ws.Conn

	events chan syncengine.Event

	stopOnce    sync.Once
	stop        chan struct{}
	wg          sync.WaitGroup
	noReconnect bool
}

// New creates an adapter for store (whose client id identifies this
// device) without connecting. Call Start to begin.
func New(store *docstore.Store, cfg Config) *Adapter {
	cfg.applyDefaults()
	return &Adapter{
		cfg:    cfg,
		store:  store,
		logger: cfg.Logger.With("workspace_id", cfg.WorkspaceID),
		eng:    syncengine.New(store, syncengine.Config{WorkspaceID: cfg.WorkspaceID}),
		events: make(chan syncengine.Event, 256),
		stop:   make(chan struct{}),
	}
}

// Events delivers engine events to the application. While the buffer
// (256 events) is full, new events are dropped rather than stalling sync.
func (a *Adapter) Events() <-chan syncengine.Event { return a.events }

// Start launches the connect and tick loops.
func (a *Adapter) Start() {
	a.wg.Add(2)
	go a.connectLoop()
	go a.tickLoop()
}

// Close stops the adapter and closes the socket cleanly.
func (a *Adapter) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.connMu.Lock()
	if a.conn != nil {
		a.conn.WriteClose(wire.CloseClean, "client shutting down")
		a.conn.Close()
	}
	a.connMu.Unlock()
	a.wg.Wait()
}

// Phase returns the engine's workspace phase.
func (a *Adapter) Phase() syncengine.Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.Phase()
}

// QueueLocalUpdate records an editor-produced update and pushes it to
// the relay when connected.
func (a *Adapter) QueueLocalUpdate(docID string, update []byte) error {
	a.mu.Lock()
	err := a.eng.QueueLocalUpdate(docID, update)
	a.mu.Unlock()
	a.pump()
	return err
}

// Focus declares interest in body documents.
func (a *Adapter) Focus(docIDs []string) {
	a.mu.Lock()
	a.eng.Focus(docIDs)
	a.mu.Unlock()
	a.pump()
}

// Unfocus withdraws interest.
func (a *Adapter) Unfocus(docIDs []string) {
	a.mu.Lock()
	a.eng.Unfocus(docIDs)
	a.mu.Unlock()
	a.pump()
}

// RequestBodySync fetches bodies once without keeping them focused.
func (a *Adapter) RequestBodySync(docIDs []string) {
	a.mu.Lock()
	a.eng.RequestBodySync(docIDs)
	a.mu.Unlock()
	a.pump()
}

// WaitForSync blocks until the workspace reaches Synced, or returns
// false at the deadline.
func (a *Adapter) WaitForSync(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.Phase() == syncengine.PhaseSynced {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	return a.Phase() == syncengine.PhaseSynced
}

// WaitForBodySync blocks until docID has synced once, or returns false
// at the deadline (matching the engine's tick-driven age-out).
func (a *Adapter) WaitForBodySync(docID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		ok := a.eng.BodySynced(docID)
		a.mu.Unlock()
		if ok {
			return true
		}
		time.Sleep(25 * time.Millisecond)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eng.BodySynced(docID)
}

func (a *Adapter) syncURL() string {
	q := url.Values{}
	if a.cfg.Token != "" {
		q.Set("token", a.cfg.Token)
	}
	if a.cfg.SessionCode != "" {
		q.Set("session", a.cfg.SessionCode)
	}
	q.Set("workspace", a.cfg.WorkspaceID)
	q.Set("client", a.store.ClientID())
	return a.cfg.ServerURL + "/sync2?" + q.Encode()
}

func (a *Adapter) connectLoop() {
	defer a.wg.Done()

	backoff := a.cfg.InitialBackoff
	for {
		select {
		case <-a.stop:
			return
		default:
		}

		a.mu.Lock()
		a.eng.OnConnecting()
		a.mu.Unlock()

		conn, err := ws.Dial(a.syncURL(), nil, a.cfg.DialTimeout)
		if err != nil {
			a.logger.Warn("connect failed", "error", err, "retry_in", backoff)
			a.drainEvents()
			if !a.sleep(backoff) {
				return
			}
			backoff = a.nextBackoff(backoff)
			continue
		}
		backoff = a.cfg.InitialBackoff

		a.connMu.Lock()
		a.conn = conn
		a.connMu.Unlock()

		a.mu.Lock()
		a.eng.OnConnected()
		a.mu.Unlock()
		a.pump()

		a.readLoop(conn)

		a.connMu.Lock()
		a.conn = nil
		a.connMu.Unlock()

		a.mu.Lock()
		a.eng.OnDisconnected()
		noRetry := a.noReconnect
		a.mu.Unlock()
		a.drainEvents()

		if noRetry {
			a.logger.Warn("not reconnecting after non-retriable close")
			return
		}
		if !a.sleep(backoff) {
			return
		}
		backoff = a.nextBackoff(backoff)
	}
}

// nextBackoff doubles with jitter, capped.
func (a *Adapter) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > a.cfg.MaxBackoff {
		next = a.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(next) / 4))
	return next - jitter
}

func (a *Adapter) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-a.stop:
		return false
	}
}

func (a *Adapter) readLoop(conn *ws.Conn) {
	for {
		op, payload, err := conn.ReadMessage()
		if err != nil {
			var ce *ws.CloseError
			if wsErr, ok := err.(*ws.CloseError); ok {
				ce = wsErr
			}
			if ce != nil && ce.Code >= 4000 && ce.Code < 5000 {
				// Application-level reject: do not reconnect.
				a.mu.Lock()
				a.noReconnect = true
				a.mu.Unlock()
				a.logger.Error("server rejected session", "code", ce.Code, "reason", ce.Reason)
				select {
				case a.events <- syncengine.Event{
					Kind: syncengine.EventError,
					Err:  domain.ErrProtocolViolation.WithDetails(ce.Reason),
				}:
				default:
				}
			}
			conn.Close()
			return
		}

		a.mu.Lock()
		switch op {
		case ws.OpBinary:
			a.eng.InjectBinary(payload)
		case ws.OpText:
			a.eng.InjectText(string(payload))
		}
		a.mu.Unlock()
		a.pump()
	}
}

func (a *Adapter) tickLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.mu.Lock()
			a.eng.Tick(time.Now().UnixMilli())
			a.mu.Unlock()
			a.pump()
		case <-a.stop:
			return
		}
	}
}

// pump drains the engine and performs the I/O it asked for. pumpMu
// serializes whole drains so frames from concurrent callers can't
// interleave out of emission order on the socket.
func (a *Adapter) pump() {
	a.pumpMu.Lock()
	defer a.pumpMu.Unlock()

	a.mu.Lock()
	out := a.eng.Drain()
	a.mu.Unlock()
	if out.Empty() {
		return
	}

	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()

	if conn != nil {
		for _, frame := range out.Binary {
			if err := conn.WriteBinary(frame); err != nil {
				a.logger.Warn("write binary failed", "error", err)
				break
			}
		}
		for _, msg := range out.Text {
			if err := conn.WriteText(msg); err != nil {
				a.logger.Warn("write text failed", "error", err)
				break
			}
		}
	}

	for _, ev := range out.Events {
		select {
		case a.events <- ev:
		default:
			a.logger.Warn("event dropped, consumer too slow", "kind", ev.Kind)
		}
	}

	for _, act := range out.Actions {
		switch act.Kind {
		case syncengine.ActionDownloadSnapshot:
			go a.downloadSnapshot()
		case syncengine.ActionCloseSession:
			if act.Code >= 4000 && act.Code < 5000 {
				a.mu.Lock()
				a.noReconnect = true
				a.mu.Unlock()
			}
			if conn != nil {
				conn.WriteClose(act.Code, act.Reason)
				conn.Close()
			}
		}
	}
}

// drainEvents flushes engine events queued while no pump ran (e.g.
// status changes around a failed dial).
func (a *Adapter) drainEvents() {
	a.pump()
}

func (a *Adapter) snapshotURL() string {
	return fmt.Sprintf("%s/api/workspaces/%s/snapshot", a.cfg.HTTPBaseURL, url.PathEscape(a.cfg.WorkspaceID))
}

// downloadSnapshot executes the engine's DownloadSnapshot action:
// fetch the archive, import it through the CRDTs, and resume the
// handshake. Failure degrades to plain log sync.
func (a *Adapter) downloadSnapshot() {
	data, err := a.fetchSnapshot()
	if err != nil {
		a.logger.Warn("snapshot download failed, falling back to log sync", "error", err)
		a.mu.Lock()
		a.eng.OnSnapshotFailed(err)
		a.mu.Unlock()
		a.pump()
		return
	}

	n, err := archive.Bootstrap(a.store, a.cfg.WorkspaceID, data)
	if err != nil {
		a.logger.Warn("snapshot import failed, falling back to log sync", "error", err)
		a.mu.Lock()
		a.eng.OnSnapshotFailed(err)
		a.mu.Unlock()
		a.pump()
		return
	}

	a.logger.Info("snapshot imported", "files", n)
	a.mu.Lock()
	a.eng.OnSnapshotImported()
	a.mu.Unlock()
	a.pump()
}

func (a *Adapter) fetchSnapshot() ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, a.snapshotURL(), nil)
	if err != nil {
		return nil, err
	}
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// UploadSnapshot pushes the local workspace as an archive, replacing or
// merging the server's state. Returns the server-reported import count.
func (a *Adapter) UploadSnapshot(mode archive.Mode) (int, error) {
	data, _, err := archive.Build(a.store, a.cfg.WorkspaceID)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequest(http.MethodPost, a.snapshotURL()+"?mode="+string(mode), bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/zip")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("snapshot upload: status %d", resp.StatusCode)
	}

	var out struct {
		FilesImported int `json:"files_imported"`
	}
	if err := jsonDecode(resp.Body, &out); err != nil {
		return 0, err
	}
	return out.FilesImported, nil
}

func jsonDecode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
