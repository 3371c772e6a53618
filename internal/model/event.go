package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventPaymentSuccess EventType = "payment_success"
	EventMessage        EventType = "message"
	EventEcho           EventType = "echo"
	EventPing           EventType = "ping"
)

// Frame is one JSON message on the realtime channel.
type Frame struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	At   int64           `json:"at,omitempty"`
}

// PaymentSuccess is pushed when the provider confirms a bank transfer.
type PaymentSuccess struct {
	OrderCode   int64           `json:"orderCode"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

// RealtimeMessage is a generic notification pushed by the backend.
type RealtimeMessage struct {
	Level   NotificationLevel `json:"level"`
	Message string            `json:"message"`
}

// UnmarshalJSON accepts either a bare string or {level, message}.
func (m *RealtimeMessage) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		m.Level = LevelInfo
		m.Message = text
		return nil
	}
	type plain RealtimeMessage
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = RealtimeMessage(p)
	if m.Level == "" {
		m.Level = LevelInfo
	}
	return nil
}

type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a transient toast shown on the till screen.
type Notification struct {
	ID        uuid.UUID         `json:"id"`
	Level     NotificationLevel `json:"level"`
	Message   string            `json:"message"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}
