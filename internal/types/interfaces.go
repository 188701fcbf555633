// internal/types/interfaces.go
package types

import (
	"context"

	"github.com/user/toolchat/pkg/llm"
)

// ConversationStore persists conversations by key. Load of an unknown key
// returns an empty conversation. Save replaces the stored turns.
type ConversationStore interface {
	Load(ctx context.Context, key ConversationKey) (llm.Conversation, error)
	Save(ctx context.Context, key ConversationKey, conv llm.Conversation) error
	List(ctx context.Context) ([]*ConversationIndex, error)
	Delete(ctx context.Context, key ConversationKey) error
}

// PriceHistory stores monitor readings. Latest returns nil, nil when no
// reading exists for the asset. Recent returns newest first.
type PriceHistory interface {
	Latest(ctx context.Context, asset string) (*PriceReading, error)
	Append(ctx context.Context, reading *PriceReading) error
	Recent(ctx context.Context, asset string, limit int) ([]*PriceReading, error)
}
