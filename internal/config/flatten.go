package config

import (
	"strings"
)

// secretFields are the leaf names whose values are masked wherever they appear,
// e.g. openai.api_key or telegram.token.
var secretFields = map[string]bool{
	"api_key": true,
	"token":   true,
}

// IsSecretKey reports whether a dotted key names a credential.
func IsSecretKey(key string) bool {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	return secretFields[key]
}

// Flatten turns nested maps into dotted keys: {"http": {"listen": ":8080"}}
// becomes {"http.listen": ":8080"}. Lists are leaves.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A scalar found where a section is
// needed is replaced by the section.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		section := out
		for {
			head, rest, nested := strings.Cut(key, ".")
			if !nested {
				section[head] = v
				break
			}
			child, ok := section[head].(map[string]any)
			if !ok {
				child = make(map[string]any)
				section[head] = child
			}
			section, key = child, rest
		}
	}
	return out
}

// MaskSecrets copies flat with every non-empty string credential reduced to
// its last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && s != "" && IsSecretKey(k) {
			v = mask(s)
		}
		out[k] = v
	}
	return out
}

func mask(s string) string {
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}
