package models

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of a live stream message
type MessageType string

const (
	MessageTypeSnapshot MessageType = "snapshot"
	MessageTypeAlerts   MessageType = "alerts"
	MessageTypeHello    MessageType = "hello"
	MessageTypeError    MessageType = "error"
)

// Message is the envelope of every stream and mirror message
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage encodes payload into a message stamped with the current time
func NewMessage(msgType MessageType, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: raw, Timestamp: time.Now()}, nil
}

// Snapshot is the per tick state pushed to dashboards and mirrors
type Snapshot struct {
	GreenhouseID int64           `json:"greenhouse_id"`
	Reading      SensorReading   `json:"reading"`
	Irrigation   IrrigationState `json:"irrigation"`
	UnreadAlerts int             `json:"unread_alerts"`
	TotalAlerts  int             `json:"total_alerts"`
}

// HelloMessage is the payload sent when a dashboard connects
type HelloMessage struct {
	Greenhouse SystemInfo `json:"greenhouse"`
}

// ErrorMessage tells a dashboard it sent something the stream does not accept
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnmarshalPayload decodes the payload into v
func (m *Message) UnmarshalPayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
