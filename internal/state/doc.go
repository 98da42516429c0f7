// Package state provides filesystem-backed conversation and message stores and
// a config-backed directory of configurations, users and groups.
package state

import "github.com/user/parley/internal/types"

// Compile-time interface compliance checks.
var _ types.ConversationStore = (*ConversationStore)(nil)
var _ types.MessageStore = (*MessageStore)(nil)
