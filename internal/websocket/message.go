package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypeSnapshot    MessageType = "snapshot"
	TypeError       MessageType = "error"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
)

// Error codes carried by TypeError messages.
const (
	CodePermissionDenied = "permission-denied"
	CodeInvalidArgument  = "invalid-argument"
	CodeUnavailable      = "unavailable"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload names a collection as users/{userId}/{collection}.
type SubscribePayload struct {
	Collection string `json:"collection"`
}

type DocumentPayload struct {
	ID        string                 `json:"id"`
	Fields    map[string]interface{} `json:"fields"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

type SnapshotPayload struct {
	Collection string            `json:"collection"`
	Seq        uint64            `json:"seq"`
	Docs       []DocumentPayload `json:"docs"`
}

type ErrorPayload struct {
	Collection string `json:"collection,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
