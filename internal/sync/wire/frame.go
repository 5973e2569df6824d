package wire

import (
	"encoding/base64"
	"encoding/json"

	"github.com/diaryx/syncd/internal/core/domain"
	"github.com/diaryx/syncd/internal/storage/causallog"
)

// Frame tags and sync sub-types.
const (
	TagSync byte = 0

	SubStep1  byte = 0
	SubStep2  byte = 1
	SubUpdate byte = 2
)

// Close codes. 1000 is a clean close; 4000-4999 are application-level
// rejects (non-retriable); 5000-5999 are transient (retriable).
const (
	CloseClean               = 1000
	CloseUnsupportedProtocol = 4400
	CloseUnauthorized        = 4401
	CloseBacklogExceeded     = 5031
	CloseTransient           = 5000
)

// Frame is one decoded binary sync frame.
type Frame struct {
	DocID   string
	Payload []byte
}

// EncodeFrame prefixes payload with the doc-id header.
func EncodeFrame(docID string, payload []byte) ([]byte, error) {
	if docID == "" {
		return nil, domain.ErrProtocolViolation.WithDetails("empty doc id")
	}
	if len(docID) > 255 {
		return nil, domain.ErrProtocolViolation.WithDetails("doc id too long")
	}
	for i := 0; i < len(docID); i++ {
		if docID[i] > 0x7f {
			return nil, domain.ErrProtocolViolation.WithDetails("doc id not ASCII")
		}
	}
	out := make([]byte, 0, 1+len(docID)+len(payload))
	out = append(out, byte(len(docID)))
	out = append(out, docID...)
	return append(out, payload...), nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < 1 {
		return Frame{}, domain.ErrProtocolViolation.WithDetails("empty frame")
	}
	n := int(b[0])
	if n == 0 {
		return Frame{}, domain.ErrProtocolViolation.WithDetails("zero-length doc id is reserved")
	}
	if len(b) < 1+n {
		return Frame{}, domain.ErrProtocolViolation.WithDetails("frame shorter than doc id header")
	}
	return Frame{DocID: string(b[1 : 1+n]), Payload: b[1+n:]}, nil
}

// SyncMessage is one decoded sync payload (the part after the doc-id
// header).
type SyncMessage struct {
	Sub byte

	// SV is the sender's state vector: the request vector on Step1,
	// the sender's current vector on Step2 (so the receiver can reply
	// with a covering delta without a separate Step1).
	SV causallog.StateVector

	// Updates carries Step2's delta envelopes.
	Updates []causallog.Envelope

	// Update carries a single unsolicited update.
	Update causallog.Envelope
}

// step2Body is the JSON layout of a Step2 payload. Envelope bytes are
// base64 inside JSON; the envelope's own binary header keeps the
// (client, clock) tag self-describing.
type step2Body struct {
	SV      causallog.StateVector `json:"sv"`
	Updates []string              `json:"updates"`
}

// EncodeStep1 builds a Step1 sync payload carrying our state vector.
func EncodeStep1(sv causallog.StateVector) ([]byte, error) {
	svBytes, err := sv.Encode()
	if err != nil {
		return nil, err
	}
	return append([]byte{TagSync, SubStep1}, svBytes...), nil
}

// EncodeStep2 builds a Step2 payload: the delta envelopes covering the
// peer's vector, plus our own current vector.
func EncodeStep2(sv causallog.StateVector, updates []causallog.Envelope) ([]byte, error) {
	body := step2Body{SV: sv, Updates: make([]string, 0, len(updates))}
	for _, env := range updates {
		raw, err := env.Encode()
		if err != nil {
			return nil, err
		}
		body.Updates = append(body.Updates, base64.StdEncoding.EncodeToString(raw))
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, domain.ErrProtocolViolation.WithDetails("encode step2").WithCause(err)
	}
	return append([]byte{TagSync, SubStep2}, b...), nil
}

// EncodeUpdate builds an unsolicited Update payload from one envelope.
func EncodeUpdate(env causallog.Envelope) ([]byte, error) {
	raw, err := env.Encode()
	if err != nil {
		return nil, err
	}
	return append([]byte{TagSync, SubUpdate}, raw...), nil
}

// DecodeSync decodes a sync payload (Step1, Step2, or Update).
func DecodeSync(payload []byte) (SyncMessage, error) {
	if len(payload) < 2 {
		return SyncMessage{}, domain.ErrProtocolViolation.WithDetails("sync payload truncated")
	}
	if payload[0] != TagSync {
		return SyncMessage{}, domain.ErrProtocolViolation.WithDetails("unknown frame tag")
	}

	msg := SyncMessage{Sub: payload[1]}
	body := payload[2:]

	switch msg.Sub {
	case SubStep1:
		sv, err := causallog.DecodeStateVector(body)
		if err != nil {
			return SyncMessage{}, domain.ErrProtocolViolation.WithDetails("bad step1 vector").WithCause(err)
		}
		msg.SV = sv

	case SubStep2:
		var b step2Body
		if err := json.Unmarshal(body, &b); err != nil {
			return SyncMessage{}, domain.ErrProtocolViolation.WithDetails("bad step2 body").WithCause(err)
		}
		if b.SV == nil {
			b.SV = causallog.StateVector{}
		}
		msg.SV = b.SV
		for _, enc := range b.Updates {
			raw, err := base64.StdEncoding.DecodeString(enc)
			if err != nil {
				return SyncMessage{}, domain.ErrProtocolViolation.WithDetails("bad step2 update encoding").WithCause(err)
			}
			env, err := causallog.DecodeEnvelope(raw)
			if err != nil {
				return SyncMessage{}, domain.ErrProtocolViolation.WithDetails("bad step2 envelope").WithCause(err)
			}
			msg.Updates = append(msg.Updates, env)
		}

	case SubUpdate:
		env, err := causallog.DecodeEnvelope(body)
		if err != nil {
			return SyncMessage{}, domain.ErrProtocolViolation.WithDetails("bad update envelope").WithCause(err)
		}
		msg.Update = env

	default:
		return SyncMessage{}, domain.ErrProtocolViolation.WithDetails("unknown sync sub-type")
	}
	return msg, nil
}
