// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

// ConversationKey names a conversation from the outside, e.g.
// "telegram:42:42" or "cli:default".
type ConversationKey string
type ConversationID string
type RunID string
type ReadingID string

func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewReadingID() ReadingID {
	return ReadingID(uuid.New().String())
}

func NewConversationKey(parts ...string) ConversationKey {
	return ConversationKey(strings.Join(parts, ":"))
}
