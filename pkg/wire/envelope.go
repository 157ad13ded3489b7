package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Envelope is the payload carried inside a transport frame: a message
// type tag followed by a gob-encoded body (§6).
type Envelope struct {
	Type MessageType
	Body []byte
}

// Encode gob-encodes body and wraps it with typ into a frame payload.
func Encode(typ MessageType, body interface{}) ([]byte, error) {
	var bodyBuf bytes.Buffer
	if body != nil {
		if err := gob.NewEncoder(&bodyBuf).Encode(body); err != nil {
			return nil, fmt.Errorf("wire: encode body for %s: %w", typ, err)
		}
	}

	var out bytes.Buffer
	if err := gob.NewEncoder(&out).Encode(Envelope{Type: typ, Body: bodyBuf.Bytes()}); err != nil {
		return nil, fmt.Errorf("wire: encode envelope for %s: %w", typ, err)
	}
	return out.Bytes(), nil
}

// Decode parses a frame payload into its envelope.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env, nil
}

// DecodeBody gob-decodes an envelope's body into dst, which must be a
// pointer to the struct matching the envelope's Type.
func DecodeBody(env Envelope, dst interface{}) error {
	if len(env.Body) == 0 {
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(env.Body)).Decode(dst); err != nil {
		return fmt.Errorf("wire: decode body for %s: %w", env.Type, err)
	}
	return nil
}
