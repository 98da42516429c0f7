package types

import (
	"testing"
)

func TestNewCallbackID(t *testing.T) {
	id := NewCallbackID()
	if id == "" {
		t.Error("expected non-empty CallbackID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
	if NewCallbackID() == id {
		t.Error("expected distinct ids")
	}
}

func TestConversationKeyFormat(t *testing.T) {
	key := NewConversationKey("telegram", "123")
	expected := ConversationKey("telegram:123")
	if key != expected {
		t.Errorf("expected %s, got %s", expected, key)
	}
}
