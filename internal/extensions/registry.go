// Package extensions resolves the extensions a configuration enables and
// provides the built-in extension types.
package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/user/parley/internal/chat"
	"github.com/user/parley/internal/types"
)

// Spec describes an extension type to operators.
type Spec struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// Schema is the JSON schema of the configured values.
	Schema string `json:"schema"`
}

// Type is an extension kind that configurations can enable.
type Type interface {
	chat.Extension
	Spec() Spec
}

type registered struct {
	ext    Type
	schema *jsonschema.Schema
}

// Registry maps type names to extension types. It is filled at startup and
// read-only afterwards.
type Registry struct {
	types map[string]registered
}

// NewRegistry registers the given types, compiling their schemas.
func NewRegistry(exts ...Type) (*Registry, error) {
	r := &Registry{types: make(map[string]registered)}
	for _, t := range exts {
		if err := r.register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(t Type) error {
	spec := t.Spec()
	if spec.Type == "" {
		return fmt.Errorf("extension type has no name")
	}
	if _, ok := r.types[spec.Type]; ok {
		return fmt.Errorf("extension type %s registered twice", spec.Type)
	}
	entry := registered{ext: t}
	if spec.Schema != "" {
		schema, err := jsonschema.CompileString(spec.Type+".schema.json", spec.Schema)
		if err != nil {
			return fmt.Errorf("compile schema of %s: %w", spec.Type, err)
		}
		entry.schema = schema
	}
	r.types[spec.Type] = entry
	return nil
}

// Get returns the type registered under name.
func (r *Registry) Get(name string) (Type, bool) {
	entry, ok := r.types[name]
	return entry.ext, ok
}

// Specs lists the registered types sorted by name.
func (r *Registry) Specs() []Spec {
	specs := make([]Spec, 0, len(r.types))
	for _, entry := range r.types {
		specs = append(specs, entry.ext.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs
}

// Validate checks values against the schema of the named type.
func (r *Registry) Validate(name string, values map[string]any) error {
	entry, ok := r.types[name]
	if !ok {
		return fmt.Errorf("unknown extension type %q", name)
	}
	if entry.schema == nil {
		return nil
	}

	// Values may come from YAML; validate their JSON form.
	payload, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode %s values: %w", name, err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode %s values: %w", name, err)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}
	if err := entry.schema.Validate(decoded); err != nil {
		return fmt.Errorf("%s values invalid: %w", name, err)
	}
	return nil
}

// Enabled resolves the enabled extensions of configuration in declaration
// order. Unknown types and invalid values fail the resolution.
func (r *Registry) Enabled(ctx context.Context, configuration *types.Configuration) ([]chat.EnabledExtension, error) {
	var out []chat.EnabledExtension
	for _, cfg := range configuration.Extensions {
		if !cfg.Enabled {
			continue
		}
		entry, ok := r.types[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("extension %s: unknown type %q", cfg.ID, cfg.Type)
		}
		if err := r.Validate(cfg.Type, cfg.Values); err != nil {
			return nil, fmt.Errorf("extension %s: %w", cfg.ID, err)
		}
		out = append(out, chat.EnabledExtension{ID: cfg.ID, Extension: entry.ext, Values: cfg.Values})
	}
	return out, nil
}

// decode converts loosely typed values into out through their JSON form.
func decode(values map[string]any, out any) error {
	if len(values) == 0 {
		return nil
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}
