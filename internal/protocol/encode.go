package protocol

import (
	"encoding/json"
	"fmt"
)

// NewEvent builds an event envelope. id 0 means no ack is expected.
func NewEvent(event string, id uint64, payload any) (Envelope, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode %s payload: %w", event, err)
	}
	env := Envelope{Type: EnvelopeEvent, Event: event, ID: id, Data: data}
	return env, env.Validate()
}

// NewAck builds the ack envelope answering event id.
func NewAck(id uint64, payload any) (Envelope, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode ack payload: %w", err)
	}
	env := Envelope{Type: EnvelopeAck, ID: id, Data: data}
	return env, env.Validate()
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
