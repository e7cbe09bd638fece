package broker

import (
	"encoding/json"
)

// Marker tags every envelope this package produces.
const Marker = "masquerade-broker/v1"

// MessageType is the envelope kind.
type MessageType string

const (
	MessageReady   MessageType = "ready"
	MessageRequest MessageType = "request"
	MessageResult  MessageType = "result"
)

// Envelope is the cross-window wire format.
type Envelope struct {
	Marker  string          `json:"marker"`
	Type    MessageType     `json:"type"`
	Route   Route           `json:"route,omitempty"`
	Nonce   string          `json:"nonce,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newEnvelope(kind MessageType, route Route, nonce string, payload json.RawMessage) Envelope {
	return Envelope{Marker: Marker, Type: kind, Route: route, Nonce: nonce, Payload: payload}
}

func (e Envelope) encode() ([]byte, error) {
	return json.Marshal(e)
}

// decodeEnvelope parses data, reporting false for anything that is not one
// of ours. Foreign messages are expected on a shared window and are ignored.
func decodeEnvelope(data []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false
	}
	if env.Marker != Marker {
		return Envelope{}, false
	}
	switch env.Type {
	case MessageReady, MessageRequest, MessageResult:
		return env, true
	default:
		return Envelope{}, false
	}
}
