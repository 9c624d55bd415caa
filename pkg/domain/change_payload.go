package domain

import (
	"bytes"
	"encoding/json"
)

// ChangePayload is the JSON snapshot of an entity carried by an event, so a
// subscriber can refresh one row without re-reading the collection.
type ChangePayload struct {
	set  bool
	data json.RawMessage
}

// NewChangePayload wraps a copy of raw.
func NewChangePayload(raw json.RawMessage) ChangePayload {
	return ChangePayload{set: true, data: bytes.Clone(raw)}
}

// NewChangePayloadFromValue encodes entity as a payload.
func NewChangePayloadFromValue[T any](entity T) (ChangePayload, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return ChangePayload{}, err
	}
	return ChangePayload{set: true, data: data}, nil
}

// Defined is false for the zero payload.
func (p ChangePayload) Defined() bool { return p.set }

// IsEmpty reports a zero payload or one holding no bytes.
func (p ChangePayload) IsEmpty() bool { return !p.set || len(p.data) == 0 }

// Raw returns a copy of the encoded entity.
func (p ChangePayload) Raw() json.RawMessage {
	if p.IsEmpty() {
		return nil
	}
	return bytes.Clone(p.data)
}

// Decode fills target from the snapshot. An empty payload leaves target
// untouched.
func (p ChangePayload) Decode(target any) error {
	if p.IsEmpty() {
		return nil
	}
	return json.Unmarshal(p.data, target)
}

// MarshalJSON emits the snapshot verbatim, or null.
func (p ChangePayload) MarshalJSON() ([]byte, error) {
	if p.IsEmpty() {
		return []byte("null"), nil
	}
	return bytes.Clone(p.data), nil
}

// UnmarshalJSON keeps the raw snapshot; null resets the payload.
func (p *ChangePayload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = ChangePayload{}
		return nil
	}
	*p = NewChangePayload(data)
	return nil
}
