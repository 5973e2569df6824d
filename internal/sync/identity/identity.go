// Package identity mints the stable identifiers the sync core keys
// everything by: client ids (one per device, embedded in every causal
// log entry) and session ids (one per protocol-level conversation).
package identity

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewClientID mints a device-stable client id. Callers persist it; a
// client id is minted once per device, not per connection.
func NewClientID() string {
	return "c" + newULID()
}

// NewSessionID mints a per-connection session id.
func NewSessionID() string {
	return "s" + newULID()
}

// NewSnapshotID mints an archive id for the snapshot service.
func NewSnapshotID() string {
	return "snap" + newULID()
}
