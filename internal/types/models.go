// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

type ConversationIndex struct {
	ID        ConversationID  `json:"id"`
	Key       ConversationKey `json:"key"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Turns     int             `json:"turns"`
}

type PriceReading struct {
	ID       ReadingID `json:"id"`
	Asset    string    `json:"asset"`
	Price    float64   `json:"price"`
	Analysis string    `json:"analysis"`
	At       time.Time `json:"at"`
}

// Watch is a scheduled price check.
type Watch struct {
	Name      string     `json:"name"`
	Asset     string     `json:"asset"`
	Schedule  string     `json:"schedule"`
	NotifyKey string     `json:"notify_key,omitempty"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type InboundEvent struct {
	Source          string          `json:"source"`
	ConversationKey ConversationKey `json:"conversation_key"`
	UserID          string          `json:"user_id"`
	Text            string          `json:"text"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}
