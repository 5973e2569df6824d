package relay

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/diaryx/syncd/internal/sync/wire"
)

// Default per-session limits.
const (
	// DefaultQueueHighWater bounds each session's outbound queue; a
	// session whose queue is full when the actor tries to enqueue is
	// closed with a retriable code.
	DefaultQueueHighWater = 256

	// DefaultFrameRate and DefaultFrameBurst bound inbound frames per
	// session so one chatty client can't monopolize the actor.
	DefaultFrameRate  = 200 // frames per second
	DefaultFrameBurst = 400
)

// Outbound is one queued item for the transport writer: exactly one of
// Binary or Text is set.
type Outbound struct {
	Binary []byte
	Text   string
}

// Session is the relay-side handle for one connected client. The
// transport layer reads Out() and writes the socket; the actor
// enqueues without ever blocking on a slow client.
type Session struct {
	id          string
	clientID    string
	sessionCode string
	isHost      bool

	out     chan Outbound
	limiter *rate.Limiter

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	done        chan struct{}
}

// NewSession creates a session handle with a bounded outbound queue.
func NewSession(id, clientID, sessionCode string, isHost bool, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueHighWater
	}
	return &Session{
		id:          id,
		clientID:    clientID,
		sessionCode: sessionCode,
		isHost:      isHost,
		out:         make(chan Outbound, queueSize),
		limiter:     rate.NewLimiter(rate.Limit(DefaultFrameRate), DefaultFrameBurst),
		done:        make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// ClientID returns the client identity bound at upgrade time.
func (s *Session) ClientID() string { return s.clientID }

// SessionCode returns the live-collaboration share code, if any.
func (s *Session) SessionCode() string { return s.sessionCode }

// IsHost reports whether this session created its share session.
func (s *Session) IsHost() bool { return s.isHost }

// Out is the queue the transport writer drains.
func (s *Session) Out() <-chan Outbound { return s.out }

// Done closes when the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// AllowFrame consumes one inbound-rate token. A false return means the
// session is over its frame budget.
func (s *Session) AllowFrame() bool {
	return s.limiter.Allow()
}

// EnqueueBinary queues a binary frame. Returns false if the queue is at
// its high-water mark or the session is closed.
func (s *Session) EnqueueBinary(frame []byte) bool {
	return s.enqueue(Outbound{Binary: frame})
}

// EnqueueText queues a text frame.
func (s *Session) EnqueueText(msg string) bool {
	return s.enqueue(Outbound{Text: msg})
}

func (s *Session) enqueue(o Outbound) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	select {
	case s.out <- o:
		return true
	default:
		return false
	}
}

// Close marks the session closed with the given code. Idempotent; the
// first close wins.
func (s *Session) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeCode = code
	s.closeReason = reason
	close(s.done)
}

// CloseState returns the close code and reason once Done is closed.
func (s *Session) CloseState() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return 0, ""
	}
	if s.closeCode == 0 {
		return wire.CloseClean, s.closeReason
	}
	return s.closeCode, s.closeReason
}
