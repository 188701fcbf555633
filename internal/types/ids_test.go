// internal/types/ids_test.go
package types

import (
	"testing"
)

func TestNewConversationID(t *testing.T) {
	id := NewConversationID()
	if id == "" {
		t.Error("expected non-empty ConversationID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
	if NewReadingID() == NewReadingID() {
		t.Error("expected unique reading ids")
	}
}

func TestConversationKeyFormat(t *testing.T) {
	key := NewConversationKey("telegram", "123", "456")
	expected := ConversationKey("telegram:123:456")
	if key != expected {
		t.Errorf("expected %s, got %s", expected, key)
	}
}
