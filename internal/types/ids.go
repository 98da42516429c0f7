package types

import (
	"strings"

	"github.com/google/uuid"
)

type ConversationKey string
type TurnID string
type CallbackID string

// Builtin user groups that are never quota limited.
const (
	GroupAdmin   = "admin"
	GroupDefault = "default"
)

func NewTurnID() TurnID {
	return TurnID(uuid.New().String())
}

func NewCallbackID() CallbackID {
	return CallbackID(uuid.New().String())
}

// NewConversationKey joins parts into an external conversation key, e.g. "telegram:42".
func NewConversationKey(parts ...string) ConversationKey {
	return ConversationKey(strings.Join(parts, ":"))
}
