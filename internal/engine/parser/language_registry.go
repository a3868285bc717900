package parser

import (
	"fmt"
	"sort"
	"strings"
)

const (
	LangC   = "c"
	LangCPP = "cpp"
)

type LanguageSpec struct {
	Name       string
	Extensions []string
	Enabled    bool
	// CtagsName is the value passed to ctags --language-force.
	CtagsName string
}

type LanguageOverride struct {
	Enabled    *bool
	Extensions []string
}

// DefaultLanguageRegistry returns the built-in C and C++ dialects. Headers
// default to the C++ grammar, which accepts nearly all C function bodies as
// well as inline class members.
func DefaultLanguageRegistry() map[string]LanguageSpec {
	return map[string]LanguageSpec{
		LangC: {
			Name:       LangC,
			Extensions: []string{".c"},
			Enabled:    true,
			CtagsName:  "C",
		},
		LangCPP: {
			Name:       LangCPP,
			Extensions: []string{".cc", ".cpp", ".cxx", ".c++", ".h", ".hh", ".hpp", ".hxx", ".inl"},
			Enabled:    true,
			CtagsName:  "C++",
		},
	}
}

// BuildLanguageRegistry applies overrides on top of the defaults and rejects
// unknown languages and extensions claimed by more than one enabled language.
func BuildLanguageRegistry(overrides map[string]LanguageOverride) (map[string]LanguageSpec, error) {
	registry := DefaultLanguageRegistry()

	ids := make([]string, 0, len(overrides))
	for id := range overrides {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		override := overrides[id]
		key := strings.ToLower(strings.TrimSpace(id))
		spec, ok := registry[key]
		if !ok {
			return nil, fmt.Errorf("unknown language override %q", id)
		}
		if override.Enabled != nil {
			spec.Enabled = *override.Enabled
		}
		if len(override.Extensions) > 0 {
			spec.Extensions = normalizeExtensions(override.Extensions)
		}
		registry[key] = spec
	}

	owners := make(map[string]string)
	for _, id := range sortedLanguageIDs(registry) {
		spec := registry[id]
		if !spec.Enabled {
			continue
		}
		for _, ext := range spec.Extensions {
			if owner, taken := owners[ext]; taken {
				return nil, fmt.Errorf("extension %q is claimed by both %s and %s", ext, owner, id)
			}
			owners[ext] = id
		}
	}
	return registry, nil
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if seen[ext] {
			continue
		}
		seen[ext] = true
		out = append(out, ext)
	}
	return out
}

func sortedLanguageIDs(registry map[string]LanguageSpec) []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
