package parser

import "testing"

func TestBuildLanguageRegistry_Defaults(t *testing.T) {
	registry, err := BuildLanguageRegistry(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !registry[LangC].Enabled || !registry[LangCPP].Enabled {
		t.Fatal("expected c and cpp to be enabled by default")
	}
	if registry[LangC].CtagsName != "C" || registry[LangCPP].CtagsName != "C++" {
		t.Fatalf("unexpected ctags names: %+v", registry)
	}
}

func TestBuildLanguageRegistry_Overrides(t *testing.T) {
	registry, err := BuildLanguageRegistry(map[string]LanguageOverride{
		"CPP": {Extensions: []string{"cpp", ".CC", "cpp"}},
		"c":   {Extensions: []string{"c", "h"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := registry[LangCPP].Extensions
	if len(got) != 2 || got[0] != ".cpp" || got[1] != ".cc" {
		t.Fatalf("expected normalized cpp extensions, got %v", got)
	}
	if exts := registry[LangC].Extensions; len(exts) != 2 || exts[1] != ".h" {
		t.Fatalf("expected .h claimed by c, got %v", exts)
	}
}

func TestBuildLanguageRegistry_RejectsDuplicateExtensions(t *testing.T) {
	_, err := BuildLanguageRegistry(map[string]LanguageOverride{
		"c": {Extensions: []string{".c", ".hpp"}},
	})
	if err == nil {
		t.Fatal("expected duplicate extension validation error")
	}
}

func TestBuildLanguageRegistry_DisabledLanguageReleasesExtensions(t *testing.T) {
	disabled := false
	_, err := BuildLanguageRegistry(map[string]LanguageOverride{
		"cpp": {Enabled: &disabled},
		"c":   {Extensions: []string{".c", ".h"}},
	})
	if err != nil {
		t.Fatalf("disabled language must not claim extensions: %v", err)
	}
}

func TestBuildLanguageRegistry_RejectsUnknownLanguage(t *testing.T) {
	_, err := BuildLanguageRegistry(map[string]LanguageOverride{
		"rust": {Extensions: []string{".rs"}},
	})
	if err == nil {
		t.Fatal("expected unknown language override error")
	}
}
