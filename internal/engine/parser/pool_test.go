package parser

import (
	"sync"
	"testing"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_c "github.com/tree-sitter/tree-sitter-c/bindings/go"
)

func cLanguage() *sitter.Language {
	return sitter.NewLanguage(tree_sitter_c.Language())
}

func TestParserPool_GetPut(t *testing.T) {
	pool := NewParserPool(cLanguage())

	sp := pool.Get()
	if sp == nil {
		t.Fatal("expected non-nil parser from pool")
	}
	if pool.Leased() != 1 {
		t.Fatalf("expected 1 leased parser, got %d", pool.Leased())
	}
	pool.Put(sp)
	if pool.Leased() != 0 {
		t.Fatalf("expected 0 leased parsers, got %d", pool.Leased())
	}
}

func TestParserPool_PutNil(t *testing.T) {
	pool := NewParserPool(cLanguage())
	pool.Put(nil)
	if pool.Leased() != 0 {
		t.Fatalf("Put(nil) must not change the lease count, got %d", pool.Leased())
	}
}

func TestParserPool_ConcurrentParse(t *testing.T) {
	pool := NewParserPool(cLanguage())
	src := []byte("int f(void) { return 1; }\n")

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tree := pool.Parse(src)
			if tree == nil {
				errs <- "nil tree"
				return
			}
			defer tree.Close()
			if kind := tree.RootNode().Kind(); kind != "translation_unit" {
				errs <- kind
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Errorf("concurrent parse failed: %s", e)
	}
	if pool.Leased() != 0 {
		t.Fatalf("expected all parsers returned, %d still leased", pool.Leased())
	}
}
