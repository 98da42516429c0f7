package extensions

import (
	"net/http"

	"github.com/user/parley/internal/texts"
)

// BuiltinOptions configures the built-in extension types.
type BuiltinOptions struct {
	Texts           texts.Texts
	HTTPClient      *http.Client
	ProviderFactory ProviderFactory
}

// Builtins returns every built-in extension type.
func Builtins(opts BuiltinOptions) []Type {
	return []Type{
		NewOpenAI(opts.ProviderFactory),
		SystemPrompt{},
		Summary{},
		NewWebReader(opts.HTTPClient),
		NewConfirmTools(opts.Texts),
	}
}
