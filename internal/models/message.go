package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// PeerID identifies a signaling endpoint. Peers choose their own id when
// they connect.
type PeerID = string

// Kind is the tag of a signaling payload on the wire.
type Kind string

const (
	KindOffer     Kind = "Offer"
	KindAnswer    Kind = "Answer"
	KindCandidate Kind = "Candidate"
)

var (
	ErrUnknownKind      = errors.New("unknown signal kind")
	ErrMissingData      = errors.New("envelope has no data")
	ErrMissingRecipient = errors.New("envelope has no recipient")
	ErrInvalidBody      = errors.New("envelope body is not valid JSON")
)

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate:
		return true
	}
	return false
}

// Payload is the data of an envelope. Body is an opaque blob owned by the
// RTC engine; the relay never looks inside it.
type Payload struct {
	Kind Kind
	Body json.RawMessage
}

// Envelope is an addressed signaling message exchanged over the relay.
type Envelope struct {
	To   PeerID
	From PeerID
	Data Payload
}

type wireEnvelope struct {
	To   PeerID                   `json:"to"`
	From PeerID                   `json:"from"`
	Data map[Kind]json.RawMessage `json:"data"`
}

// NewPayload marshals v as the body of a payload of the given kind.
func NewPayload(kind Kind, v any) (Payload, error) {
	if !kind.Valid() {
		return Payload{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return Payload{Kind: kind, Body: body}, nil
}

// Unmarshal decodes the payload body into v.
func (p Payload) Unmarshal(v any) error {
	return json.Unmarshal(p.Body, v)
}

// Encode serializes an envelope to its text wire form. The body is written
// as given, so Decode returns it byte for byte.
func Encode(e Envelope) ([]byte, error) {
	if !e.Data.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Data.Kind)
	}
	body := bytes.TrimSpace(e.Data.Body)
	if len(body) == 0 {
		return nil, ErrMissingData
	}
	if !json.Valid(body) {
		return nil, ErrInvalidBody
	}

	var buf bytes.Buffer
	buf.WriteString(`{"to":`)
	writeString(&buf, e.To)
	buf.WriteString(`,"from":`)
	writeString(&buf, e.From)
	buf.WriteString(`,"data":{`)
	writeString(&buf, string(e.Data.Kind))
	buf.WriteByte(':')
	buf.Write(body)
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

// writeString appends s as a JSON string without HTML escaping.
func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) // strings always encode
	buf.Truncate(buf.Len() - 1)
}

// Decode parses a wire envelope. The data object must carry exactly one of
// the known kinds; anything else is rejected so callers can drop the frame.
func Decode(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if w.To == "" {
		return Envelope{}, ErrMissingRecipient
	}
	if len(w.Data) != 1 {
		if len(w.Data) == 0 {
			return Envelope{}, ErrMissingData
		}
		return Envelope{}, fmt.Errorf("%w: %d tags in data", ErrUnknownKind, len(w.Data))
	}

	var e Envelope
	for kind, body := range w.Data {
		if !kind.Valid() {
			return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(body, []byte("null")) {
			return Envelope{}, ErrMissingData
		}
		e = Envelope{To: w.To, From: w.From, Data: Payload{Kind: kind, Body: body}}
	}
	return e, nil
}
