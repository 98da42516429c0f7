package types

import (
	"errors"
	"time"
)

// Lookup failures reported synchronously, before a turn stream exists.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

type MessageType string

const (
	MessageHuman MessageType = "human"
	MessageAI    MessageType = "ai"
)

type User struct {
	ID    string   `json:"id" yaml:"id"`
	Name  string   `json:"name" yaml:"name"`
	Email string   `json:"email,omitempty" yaml:"email"`
	Group string   `json:"group" yaml:"group"`
	Roles []string `json:"roles,omitempty" yaml:"roles"`
}

// UserGroup carries the monthly token limits of a group. Zero means unlimited.
type UserGroup struct {
	ID                string `json:"id" yaml:"id"`
	MonthlyTokens     int64  `json:"monthly_tokens" yaml:"monthly_tokens"`
	MonthlyUserTokens int64  `json:"monthly_user_tokens" yaml:"monthly_user_tokens"`
}

type Conversation struct {
	ID              int64           `json:"id"`
	Key             ConversationKey `json:"key,omitempty"`
	UserID          string          `json:"user_id"`
	ConfigurationID int64           `json:"configuration_id"`
	Name            string          `json:"name"`
	NameSetManually bool            `json:"name_set_manually"`
	LLM             string          `json:"llm,omitempty"`
	// ExtensionValues holds per-extension arguments the user set for this conversation.
	ExtensionValues map[string]map[string]any `json:"extension_values,omitempty"`
	// Context is free-form key/value state a front end keeps on the conversation.
	Context   map[string]string `json:"context,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ConversationUpdate lists the fields an update touches; nil fields are left alone.
type ConversationUpdate struct {
	Name            *string
	NameSetManually *bool
	LLM             *string
}

type Configuration struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	// ExecutorEndpoint, when set, delegates whole turns to an external service.
	ExecutorEndpoint string `json:"executor_endpoint,omitempty" yaml:"executor_endpoint"`
	// ExecutorHeaders holds "k=v" pairs separated by ',', ';' or newlines.
	ExecutorHeaders string            `json:"executor_headers,omitempty" yaml:"executor_headers"`
	Extensions      []ExtensionConfig `json:"extensions" yaml:"extensions"`
}

// ExtensionConfig is one extension instance enabled on a configuration.
type ExtensionConfig struct {
	ID      string         `json:"id" yaml:"id"`
	Type    string         `json:"type" yaml:"type"`
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Values  map[string]any `json:"values,omitempty" yaml:"values"`
}

type Source struct {
	Title      string `json:"title"`
	URL        string `json:"url,omitempty"`
	Content    string `json:"content,omitempty"`
	Identity   string `json:"identity,omitempty"`
	Extension  string `json:"extension,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
}

type ToolUse struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	ParentID       int64       `json:"parent_id,omitempty"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	Tools          []ToolUse   `json:"tools,omitempty"`
	Debug          []string    `json:"debug,omitempty"`
	Sources        []Source    `json:"sources,omitempty"`
	Files          []File      `json:"files,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// File references an attachment stored elsewhere.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
}

type UsageEvent struct {
	Date      time.Time `json:"date"`
	Counter   string    `json:"counter"`
	Key       string    `json:"key"`
	SubKey    string    `json:"sub_key"`
	Count     int64     `json:"count"`
	UserGroup string    `json:"user_group"`
	UserID    string    `json:"user_id"`
}

// UsageFilter selects usage rows for a half-open time range. Empty fields match all.
type UsageFilter struct {
	Counter   string
	From      time.Time
	To        time.Time
	UserGroup string
	UserID    string
}

// UsageTotal is one aggregated row of usage.
type UsageTotal struct {
	Key    string `json:"key"`
	SubKey string `json:"sub_key"`
	Count  int64  `json:"count"`
}
