package engine

// Phase is a document session's protocol phase.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseHandshake1
	PhaseHandshake2
	PhaseBootstrappingFiles
	PhaseSyncing
	PhaseSynced
	PhasePoisoned
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseHandshake1:
		return "handshake-1"
	case PhaseHandshake2:
		return "handshake-2"
	case PhaseBootstrappingFiles:
		return "bootstrapping-files"
	case PhaseSyncing:
		return "syncing"
	case PhaseSynced:
		return "synced"
	case PhasePoisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}

// EventKind tags session events surfaced to the application.
type EventKind string

const (
	EventStatusChanged    EventKind = "status_changed"
	EventProgress         EventKind = "progress"
	EventSyncComplete     EventKind = "sync_complete"
	EventFocusListChanged EventKind = "focus_list_changed"
	EventPeerJoined       EventKind = "peer_joined"
	EventPeerLeft         EventKind = "peer_left"
	EventSessionJoined    EventKind = "session_joined"
	EventSessionEnded     EventKind = "session_ended"
	EventBodySynced       EventKind = "body_synced"
	EventError            EventKind = "error"
	EventWarning          EventKind = "warning"
)

// Event is one session event.
type Event struct {
	Kind EventKind

	Phase     Phase    // status_changed
	Completed int      // progress
	Total     int      // progress
	Files     []string // focus_list_changed
	DocID     string   // body_synced
	ClientID  string   // peer_joined / peer_left / session_joined
	Err       error    // error / warning
}

// ActionKind tags requests the engine makes of its environment.
type ActionKind string

const (
	// ActionDownloadSnapshot asks the adapter to fetch the workspace
	// snapshot archive over HTTP and import it, then call
	// OnSnapshotImported.
	ActionDownloadSnapshot ActionKind = "download_snapshot"

	// ActionCloseSession asks the adapter to close the socket with the
	// given code. Codes in 4xxx must not trigger automatic reconnect.
	ActionCloseSession ActionKind = "close_session"
)

// Action is one request to the environment.
type Action struct {
	Kind   ActionKind
	Code   int
	Reason string
}

// Output is everything Drain hands the adapter: frames in emission
// order, plus events and actions accumulated since the last drain.
type Output struct {
	Binary  [][]byte
	Text    []string
	Events  []Event
	Actions []Action
}

// Empty reports whether the output carries nothing.
func (o Output) Empty() bool {
	return len(o.Binary) == 0 && len(o.Text) == 0 && len(o.Events) == 0 && len(o.Actions) == 0
}
