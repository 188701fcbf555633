// Package state provides the file-backed and SQLite-backed stores.
package state

import "github.com/user/toolchat/internal/types"

// Compile-time interface compliance checks.
var _ types.ConversationStore = (*FileConversationStore)(nil)
var _ types.ConversationStore = (*SQLiteStore)(nil)
var _ types.PriceHistory = (*FilePriceHistory)(nil)
var _ types.PriceHistory = (*SQLiteStore)(nil)
