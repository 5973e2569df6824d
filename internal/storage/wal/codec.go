package wal

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/diaryx/syncd/pkg/crypto/adaptive"
)

type wirePayload struct {
	Timestamp int64  `json:"ts"`
	DocID     string `json:"doc"`
	ClientID  string `json:"client,omitempty"`
	Clock     uint64 `json:"clock,omitempty"`

	Update []byte `json:"update,omitempty"`

	// EncryptedUpdate is base64 of adaptive.Cipher.Encrypt(Update).
	EncryptedUpdate string `json:"enc_update,omitempty"`
}

func encodeEntryFrame(e *Entry, cipher adaptive.Cipher) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("wal: entry is nil")
	}
	if e.OpType == OpTypeUnspecified {
		return nil, ErrInvalidEntryType
	}
	if e.DocID == "" {
		return nil, fmt.Errorf("wal: missing doc id")
	}

	p := wirePayload{
		Timestamp: e.Timestamp,
		DocID:     e.DocID,
		ClientID:  e.ClientID,
		Clock:     e.Clock,
	}

	if cipher == nil {
		p.Update = e.Update
	} else {
		encrypted, err := cipher.Encrypt(e.Update, nil)
		if err != nil {
			return nil, fmt.Errorf("wal: encrypt update: %w", err)
		}
		p.EncryptedUpdate = base64.StdEncoding.EncodeToString(encrypted)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("wal: marshal payload: %w", err)
	}

	typeByte := []byte{byte(e.OpType)}
	crc := crc32.ChecksumIEEE(append(typeByte, payload...))

	// Length = CRC(4) + Type(1) + Payload.
	length := uint32(4 + 1 + len(payload))
	if length < 5 {
		return nil, ErrCorruptedEntry
	}

	out := make([]byte, 0, 4+int(length))
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], length)
	out = append(out, header[:]...)

	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	out = append(out, crcBuf[:]...)

	out = append(out, typeByte...)
	out = append(out, payload...)
	return out, nil
}

func decodeEntryFrame(frame []byte, cipher adaptive.Cipher) (*Entry, error) {
	// Frame layout: [crc32:4][type:1][payload...]
	if len(frame) < 5 {
		return nil, ErrCorruptedEntry
	}

	wantCRC := binary.BigEndian.Uint32(frame[:4])
	typeByte := frame[4]
	payload := frame[5:]

	gotCRC := crc32.ChecksumIEEE(append([]byte{typeByte}, payload...))
	if gotCRC != wantCRC {
		return nil, ErrChecksumMismatch
	}

	var p wirePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("wal: unmarshal payload: %w", err)
	}

	op := OpType(typeByte)
	switch op {
	case OpTypeUpdate, OpTypeSnapshot:
	default:
		return nil, ErrInvalidEntryType
	}

	out := &Entry{
		OpType:    op,
		Timestamp: p.Timestamp,
		DocID:     p.DocID,
		ClientID:  p.ClientID,
		Clock:     p.Clock,
	}

	if p.Update != nil {
		out.Update = p.Update
		return out, nil
	}

	if p.EncryptedUpdate == "" {
		// Legitimate for zero-length updates written unencrypted.
		return out, nil
	}
	if cipher == nil {
		return nil, fmt.Errorf("wal: encrypted entry requires cipher")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(p.EncryptedUpdate)
	if err != nil {
		return nil, fmt.Errorf("wal: decode encrypted update: %w", err)
	}

	plain, err := cipher.Decrypt(ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("wal: decrypt update: %w", err)
	}
	out.Update = plain
	return out, nil
}
