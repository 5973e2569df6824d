// Package domain defines the core domain types for the sync core.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "DX-LOG-5001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Causal Log errors (LOG)
// ============================================================================

var (
	// ErrStorageUnavailable indicates the log's backing store cannot be
	// reached. Fatal for the owning session until the next tick retry.
	ErrStorageUnavailable = NewDomainError("DX-LOG-5001", "storage unavailable")

	// ErrIntegrityViolation indicates an entry failed to decode. The
	// owning document is marked Poisoned; recovery requires manual
	// repair or re-bootstrap from a snapshot.
	ErrIntegrityViolation = NewDomainError("DX-LOG-5002", "log integrity violation")

	// ErrUnknownDocument indicates an operation referenced a document id
	// the log has never seen an append for.
	ErrUnknownDocument = NewDomainError("DX-LOG-4040", "unknown document")
)

// ============================================================================
// Workspace CRDT errors (WS)
// ============================================================================

var (
	// ErrPathNotFound indicates get/tombstone/move addressed a path with
	// no record.
	ErrPathNotFound = NewDomainError("DX-WS-4040", "path not found")

	// ErrInvalidRecordDelta indicates a put() delta failed structural
	// validation (e.g. a cyclic parent chain detected eagerly).
	ErrInvalidRecordDelta = NewDomainError("DX-WS-4001", "invalid record delta")
)

// ============================================================================
// Body CRDT errors (BODY)
// ============================================================================

var (
	// ErrPositionOutOfRange indicates insert/delete addressed a position
	// beyond the current visible length.
	ErrPositionOutOfRange = NewDomainError("DX-BODY-4001", "position out of range")
)

// ============================================================================
// Sync Engine / session errors (SESS)
// ============================================================================

var (
	// ErrTransportClosed indicates the transport reported disconnection.
	// The engine queues local updates and expects reconnect with backoff.
	ErrTransportClosed = NewDomainError("DX-SESS-5030", "transport closed")

	// ErrProtocolViolation indicates a frame failed to decode or arrived
	// out of the protocol's expected shape. The session closes with
	// close code 4400 and does not auto-retry the same URL.
	ErrProtocolViolation = NewDomainError("DX-SESS-4400", "protocol violation")

	// ErrSessionPoisoned indicates the session's phase is Poisoned
	// (set only by an IntegrityViolation from the log) and can no
	// longer process frames.
	ErrSessionPoisoned = NewDomainError("DX-SESS-5000", "session poisoned")

	// ErrBodySyncTimeout indicates a pending body-sync request aged
	// out before the relay answered; wait-for-body-sync returns false.
	ErrBodySyncTimeout = NewDomainError("DX-SESS-5041", "body sync timed out")
)

// ============================================================================
// Relay server errors (RELAY)
// ============================================================================

var (
	// ErrBacklogExceeded indicates a session's outbound queue exceeded
	// its high-water mark; the relay closes the session with a
	// retriable (5xxx) code.
	ErrBacklogExceeded = NewDomainError("DX-RELAY-5031", "session backlog exceeded")

	// ErrFocusNotGranted indicates a body frame arrived for a document
	// the session never focused.
	ErrFocusNotGranted = NewDomainError("DX-RELAY-4030", "body document not focused")
)

// ============================================================================
// Snapshot service errors (SNAP)
// ============================================================================

var (
	// ErrSnapshotDownloadFailed indicates the adapter could not fetch a
	// bootstrap archive; sync proceeds via the log anyway (best-effort).
	ErrSnapshotDownloadFailed = NewDomainError("DX-SNAP-5032", "snapshot download failed")

	// ErrSnapshotCorrupt indicates an uploaded or stored archive failed
	// its checksum/header validation.
	ErrSnapshotCorrupt = NewDomainError("DX-SNAP-4002", "snapshot archive corrupt")
)

// ============================================================================
// System / argument errors (SYS, ARG)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("DX-SYS-5000", "internal server error")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("DX-SYS-4000", "bad request")

	// ErrAuthRejected indicates a bearer token was missing or rejected
	// at the transport boundary.
	ErrAuthRejected = NewDomainError("DX-SYS-4010", "authentication rejected")

	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("DX-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("DX-ARG-1002", "missing required argument")
)
