package mqtt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType represents the type of message being sent.
type MessageType string

const (
	MessageTypeCommand  MessageType = "command"
	MessageTypeEvent    MessageType = "event"
	MessageTypeResponse MessageType = "response"
	MessageTypeStatus   MessageType = "status"
)

// Message is the envelope structure for all MQTT messages.
type Message struct {
	// ID is a unique identifier for this message
	ID   string      `json:"id"`
	Type MessageType `json:"type"`
	// Source identifies the sender (e.g., "coordinator:focuser")
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	// CorrelationID links a response to its command.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Payload contains the actual message data as JSON
	Payload json.RawMessage `json:"payload"`
}

// NewMessage creates a new message with the given parameters.
func NewMessage(msgType MessageType, source string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        GenerateMessageID(),
		Type:      msgType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payloadBytes,
	}, nil
}

// NewResponse creates a response message correlated with the request ID.
func NewResponse(source, correlationID string, resp ResponseMessage) (*Message, error) {
	msg, err := NewMessage(MessageTypeResponse, source, resp)
	if err != nil {
		return nil, err
	}
	msg.CorrelationID = correlationID
	return msg, nil
}

// ParseMessage decodes an envelope.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UnmarshalPayload deserializes the payload into the provided structure.
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// CommandMessage represents a command to be executed.
type CommandMessage struct {
	Command string                 `json:"command"`
	Args    map[string]interface{} `json:"args,omitempty"`
}

// EventMessage represents an event notification.
type EventMessage struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// ResponseMessage represents a response to a command.
type ResponseMessage struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// GenerateMessageID generates a unique message ID.
func GenerateMessageID() string {
	return uuid.NewString()
}
