package prompt

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/user/parley/pkg/llm"
)

// DefaultSystem is the system message used when a turn brings none. It uses Go
// text/template syntax with Data fields: .Date, .Time, .UserName, .UserEmail.
const DefaultSystem = `You are a helpful assistant. Today is {{.Date}}.`

// Data is the input of system message templates.
type Data struct {
	Date      string
	Time      string
	UserName  string
	UserEmail string
}

// NewData fills Data for the given moment and user.
func NewData(now time.Time, userName, userEmail string) Data {
	return Data{
		Date:      now.Format("2006-01-02"),
		Time:      now.Format(time.RFC3339),
		UserName:  userName,
		UserEmail: userEmail,
	}
}

// Template describes the message layout of a model call. The human input is
// always last, after the optional history and before the optional scratchpad
// where tool calls and results of the current turn accumulate.
type Template struct {
	System     []string
	History    bool
	Scratchpad bool
}

// Default builds the standard layout: system messages, history, input, and a
// scratchpad when tools are available.
func Default(system []string, withTools bool) *Template {
	if len(system) == 0 {
		system = []string{DefaultSystem}
	}
	return &Template{
		System:     system,
		History:    true,
		Scratchpad: withTools,
	}
}

// RenderSystem expands the system message templates with data.
func (t *Template) RenderSystem(data Data) ([]string, error) {
	out := make([]string, 0, len(t.System))
	for i, text := range t.System {
		tmpl, err := template.New(fmt.Sprintf("system-%d", i)).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse system message %d: %w", i, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render system message %d: %w", i, err)
		}
		out = append(out, buf.String())
	}
	return out, nil
}

// Render lays out the messages. History and scratch are dropped when the
// template has no slot for them.
func (t *Template) Render(system []string, history []llm.Message, input string, scratch []llm.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(system)+len(history)+1+len(scratch))
	for _, s := range system {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s})
	}
	if t.History {
		messages = append(messages, history...)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: input})
	if t.Scratchpad {
		messages = append(messages, scratch...)
	}
	return messages
}
