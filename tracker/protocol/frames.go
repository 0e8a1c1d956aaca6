package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingData    = errors.New("missing data")
)

// Decode parses a client frame. Only the envelope is validated here; the
// payload is decoded by DecodeData once the type is known.
func Decode(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return in, nil
}

// DecodeData unmarshals the frame payload into v.
func (in Inbound) DecodeData(v any) error {
	data := bytes.TrimSpace(in.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ErrMissingData
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// NewInbound builds a client frame, used by clients and tests.
func NewInbound(typ string, data any) (Inbound, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Type: typ, Data: raw}, nil
}

// Encode serialises a server frame.
func Encode(out Outbound) ([]byte, error) {
	return json.Marshal(out)
}

// ErrorFrame builds an error frame for the sender.
func ErrorFrame(code ErrorCode, message string) Outbound {
	return Outbound{Type: TypeError, Code: code, Message: message}
}

// DecodeEnvelope parses a server frame on the client side.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return env, nil
}
