package config

import (
	"path/filepath"
	"strings"
)

// ResolveRelative resolves value against base unless it is already absolute.
// An empty value resolves to base itself.
func ResolveRelative(base, value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(base, raw))
}

// FirstNonEmpty returns the first trimmed non-empty value, used to let CLI
// flags override the [paths] section.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
