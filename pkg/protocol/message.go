// Package protocol defines the wire types exchanged over a worker's byte
// channel and the log records produced by its stdio streams.
package protocol

import (
	"encoding/json"
	"time"
)

// Message is a single framed JSON message exchanged with a worker.
type Message struct {
	MessageID   string          `json:"messageId"`
	MessageType string          `json:"messageType"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// HeartbeatType is the messageType used for the broker's periodic keepalive.
const HeartbeatType = "heartbeat"

// HeartbeatPayload is the literal payload of a heartbeat message.
const HeartbeatPayload = `"ping"`

// NewMessage builds a Message with the given id, type and payload value,
// marshaling payload to JSON. The caller supplies the id so callers that
// need deterministic or correlated ids (request/response pairs) can control
// it; broker.Send always passes a freshly generated id.
func NewMessage(id, messageType string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		MessageID:   id,
		MessageType: messageType,
		Payload:     raw,
		Timestamp:   time.Now(),
	}, nil
}

// Decode unmarshals the message payload into out.
func (m Message) Decode(out any) error {
	return json.Unmarshal(m.Payload, out)
}
