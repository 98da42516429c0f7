package types

import (
	"context"
)

type ConversationStore interface {
	// Get returns ErrNotFound for unknown ids and ErrForbidden when user does not own it.
	Get(ctx context.Context, id int64, user *User) (*Conversation, error)
	Create(ctx context.Context, c *Conversation) error
	ResolveOrCreate(ctx context.Context, key ConversationKey, user *User, configurationID int64) (*Conversation, error)
	List(ctx context.Context, userID string) ([]*Conversation, error)
	Update(ctx context.Context, id int64, user *User, update ConversationUpdate) error
}

type MessageStore interface {
	// Save assigns the message id.
	Save(ctx context.Context, msg *Message) error
	Get(ctx context.Context, conversationID, id int64) (*Message, error)
	// Last returns nil without error when the conversation has no messages.
	Last(ctx context.Context, conversationID int64) (*Message, error)
	// Thread returns the chain of messages ending at leafID, oldest first.
	Thread(ctx context.Context, conversationID, leafID int64) ([]*Message, error)
}

type ConfigurationStore interface {
	Get(ctx context.Context, id int64) (*Configuration, error)
	// UserValues returns per-extension values a user stored on a configuration.
	UserValues(ctx context.Context, configurationID int64, userID string) (map[string]map[string]any, error)
}

type UserStore interface {
	Get(ctx context.Context, id string) (*User, error)
}

type UserGroupStore interface {
	Get(ctx context.Context, id string) (*UserGroup, error)
}

type UsageStore interface {
	Track(ctx context.Context, event *UsageEvent) error
	Sum(ctx context.Context, filter UsageFilter) (int64, error)
	Totals(ctx context.Context, filter UsageFilter) ([]UsageTotal, error)
}
