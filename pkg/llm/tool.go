package llm

import (
	"context"
	"encoding/json"
)

// Tool defines the interface for an executable tool.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// DisplayNamer is implemented by tools with a human-friendly label.
type DisplayNamer interface {
	DisplayName() string
}

// DisplayName returns the tool's label, falling back to its name.
func DisplayName(t Tool) string {
	if d, ok := t.(DisplayNamer); ok && d.DisplayName() != "" {
		return d.DisplayName()
	}
	return t.Name()
}

// Registry holds tools in registration order and provides lookup.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools. Later tools with a duplicate name win.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// Definitions converts registered tools to the provider format.
func (r *Registry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, ToolDefinition{
			Type: "function",
			Function: Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}
