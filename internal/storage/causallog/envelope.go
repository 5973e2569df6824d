package causallog

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/diaryx/syncd/internal/core/domain"
)

// Envelope is the wire and storage form of one causal log entry: the
// opaque CRDT payload prefixed with the (client-id, clock) tag the log
// indexes by. The same encoding is used for SyncUpdate frames, Step2
// delta lists, and WAL entry bodies, so "update bytes" means the same
// thing on every leg of the pipeline.
//
// The encoding is protobuf wire format (fields below), written and
// read with protowire so no generated code is needed for a
// three-field header:
//
//	1: client_id (bytes)
//	2: clock     (varint)
//	3: snapshot  (varint bool)
//	4: payload   (bytes)
//
// A Snapshot envelope carries a compact CRDT state encoding instead of
// a single update; its state vector is embedded in the payload (see
// SnapshotData) and the (client-id, clock) tag is zero.
type Envelope struct {
	ClientID string
	Clock    uint64
	Snapshot bool
	Payload  []byte
}

const (
	fieldClientID = 1
	fieldClock    = 2
	fieldSnapshot = 3
	fieldPayload  = 4
)

// Encode serializes the envelope.
func (e Envelope) Encode() ([]byte, error) {
	var out []byte
	if e.ClientID != "" {
		out = protowire.AppendTag(out, fieldClientID, protowire.BytesType)
		out = protowire.AppendString(out, e.ClientID)
	}
	if e.Clock != 0 {
		out = protowire.AppendTag(out, fieldClock, protowire.VarintType)
		out = protowire.AppendVarint(out, e.Clock)
	}
	if e.Snapshot {
		out = protowire.AppendTag(out, fieldSnapshot, protowire.VarintType)
		out = protowire.AppendVarint(out, 1)
	}
	out = protowire.AppendTag(out, fieldPayload, protowire.BytesType)
	out = protowire.AppendBytes(out, e.Payload)
	return out, nil
}

// DecodeEnvelope is the inverse of Encode. Unknown fields are skipped
// so the envelope can grow without breaking old readers.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	sawPayload := false

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Envelope{}, domain.ErrIntegrityViolation.WithDetails("envelope: bad tag")
		}
		b = b[n:]

		switch {
		case num == fieldClientID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, domain.ErrIntegrityViolation.WithDetails("envelope: bad client id")
			}
			e.ClientID = string(v)
			b = b[n:]

		case num == fieldClock && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, domain.ErrIntegrityViolation.WithDetails("envelope: bad clock")
			}
			e.Clock = v
			b = b[n:]

		case num == fieldSnapshot && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Envelope{}, domain.ErrIntegrityViolation.WithDetails("envelope: bad snapshot flag")
			}
			e.Snapshot = v != 0
			b = b[n:]

		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Envelope{}, domain.ErrIntegrityViolation.WithDetails("envelope: bad payload")
			}
			e.Payload = v
			sawPayload = true
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Envelope{}, domain.ErrIntegrityViolation.WithDetails("envelope: bad field")
			}
			b = b[n:]
		}
	}

	if !sawPayload {
		return Envelope{}, domain.ErrIntegrityViolation.WithDetails("envelope: missing payload")
	}
	return e, nil
}
