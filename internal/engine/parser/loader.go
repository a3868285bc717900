package parser

import (
	"fmt"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_c "github.com/tree-sitter/tree-sitter-c/bindings/go"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
)

// GrammarLoader resolves the tree-sitter grammar for every enabled language
// in a registry.
type GrammarLoader struct {
	languages map[string]*sitter.Language
}

func NewGrammarLoader(registry map[string]LanguageSpec) (*GrammarLoader, error) {
	gl := &GrammarLoader{languages: make(map[string]*sitter.Language)}
	for _, id := range sortedLanguageIDs(registry) {
		if !registry[id].Enabled {
			continue
		}
		switch id {
		case LangC:
			gl.languages[id] = sitter.NewLanguage(tree_sitter_c.Language())
		case LangCPP:
			gl.languages[id] = sitter.NewLanguage(tree_sitter_cpp.Language())
		default:
			return nil, fmt.Errorf("language %q is enabled but no grammar is bundled for it", id)
		}
	}
	return gl, nil
}

// Language returns the grammar for id, or nil when it is not loaded.
func (gl *GrammarLoader) Language(id string) *sitter.Language {
	return gl.languages[id]
}
