package types

import (
	"encoding/json"
	"time"
)

// Event is the wire envelope for every websocket frame in both directions.
// Data stays raw until the event name is known so malformed payloads can be
// dropped without touching the rest of the frame
type Event struct {
	Name      string          `json:"event"`
	ThreadID  string          `json:"threadId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewEvent builds an envelope with the payload marshaled in place
func NewEvent(name, threadID string, payload interface{}) (*Event, error) {
	evt := &Event{
		Name:      name,
		ThreadID:  threadID,
		Timestamp: time.Now(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, ErrInvalidPayload
		}
		evt.Data = data
	}

	return evt, nil
}

// DecodeData unmarshals the payload into v. Callers treat an error here as
// a malformed event: log and drop, never tear down the connection
func (e *Event) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

// IsClientEvent reports whether the event name is one a client may send.
// FUNCTIONAL DISCOVERY: explicit allow-list prevents undefined event names
// from entering broker dispatch
func IsClientEvent(name string) bool {
	switch name {
	case EventIdentityAnnounce,
		EventRoomJoin,
		EventRoomLeave,
		EventTypingStart,
		EventTypingStop:
		return true
	default:
		return false
	}
}
