package chat

import (
	"github.com/user/parley/internal/callback"
	"github.com/user/parley/internal/types"
)

// EventType names an event kind on the wire.
type EventType string

const (
	EventChunk     EventType = "chunk"
	EventToolStart EventType = "tool_start"
	EventToolEnd   EventType = "tool_end"
	EventSaved     EventType = "saved"
	EventDebug     EventType = "debug"
	EventSources   EventType = "sources"
	EventLogging   EventType = "logging"
	EventSummary   EventType = "summary"
	EventUI        EventType = "ui"
	EventError     EventType = "error"
	EventCompleted EventType = "completed"
)

// Event is one item of a turn's stream. The set of implementations is closed.
type Event interface {
	Type() EventType
	event()
}

// ContentPart is one piece of normalized model output.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// TextPart wraps text as a content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

type Chunk struct {
	Content []ContentPart `json:"content"`
}

// ToolInfo identifies a tool in tool events.
type ToolInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

type ToolStart struct {
	Tool ToolInfo `json:"tool"`
}

type ToolEnd struct {
	Tool ToolInfo `json:"tool"`
}

type Saved struct {
	MessageID   int64             `json:"messageId"`
	MessageType types.MessageType `json:"messageType"`
}

type Debug struct {
	Content string `json:"content"`
}

type Sources struct {
	Content []types.Source `json:"content"`
}

type Logging struct {
	Content string `json:"content"`
}

type Summary struct {
	Content string `json:"content"`
}

// UIRequest asks the client for an answer, correlated by ID.
type UIRequest struct {
	ID   types.CallbackID `json:"id"`
	Text string           `json:"text"`
	Type callback.Kind    `json:"type"`
}

type UI struct {
	Request UIRequest `json:"request"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type Completed struct {
	Metadata Metadata `json:"metadata"`
}

type Metadata struct {
	TokenCount int `json:"tokenCount"`
}

func (Chunk) Type() EventType      { return EventChunk }
func (ToolStart) Type() EventType  { return EventToolStart }
func (ToolEnd) Type() EventType    { return EventToolEnd }
func (Saved) Type() EventType      { return EventSaved }
func (Debug) Type() EventType      { return EventDebug }
func (Sources) Type() EventType    { return EventSources }
func (Logging) Type() EventType    { return EventLogging }
func (Summary) Type() EventType    { return EventSummary }
func (UI) Type() EventType         { return EventUI }
func (ErrorEvent) Type() EventType { return EventError }
func (Completed) Type() EventType  { return EventCompleted }

func (Chunk) event()      {}
func (ToolStart) event()  {}
func (ToolEnd) event()    {}
func (Saved) event()      {}
func (Debug) event()      {}
func (Sources) event()    {}
func (Logging) event()    {}
func (Summary) event()    {}
func (UI) event()         {}
func (ErrorEvent) event() {}
func (Completed) event()  {}

// TextOf concatenates the text parts of a chunk.
func TextOf(c Chunk) string {
	var out string
	for _, p := range c.Content {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}
