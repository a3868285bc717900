package parser

import (
	"strings"

	coreerrors "ossmatch/internal/core/errors"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

const anonymousFunction = "(anonymous)"

var functionDefinitionKinds = map[string]bool{
	"function_definition": true,
	// Older C++ grammars name in-class constructors and conversion operators
	// separately.
	"constructor_or_destructor_definition": true,
	"operator_cast_definition":             true,
}

// TreeSitterTagger finds function_definition nodes with a tree-sitter grammar.
// Definitions nested in namespaces, classes, linkage blocks, templates and
// preprocessor conditionals are all reported; bodies are not descended into.
type TreeSitterTagger struct {
	language          string
	pool              *ParserPool
	keepErrorSubtrees bool
}

func NewTreeSitterTagger(language string, grammar *sitter.Language, keepErrorSubtrees bool) *TreeSitterTagger {
	return &TreeSitterTagger{
		language:          language,
		pool:              NewParserPool(grammar),
		keepErrorSubtrees: keepErrorSubtrees,
	}
}

func (t *TreeSitterTagger) Tag(path string, source []byte) ([]FunctionSpan, error) {
	tree := t.pool.Parse(source)
	if tree == nil {
		return nil, (&coreerrors.DomainError{
			Code:    coreerrors.CodeParseFailure,
			Message: "parser produced no tree",
		}).WithContext(coreerrors.CtxPath, path).
			WithContext(coreerrors.CtxLanguage, t.language)
	}
	defer tree.Close()

	root := tree.RootNode()
	spans := make([]FunctionSpan, 0, 16)
	dropped := 0

	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if functionDefinitionKinds[node.Kind()] {
			if node.HasError() && !t.keepErrorSubtrees {
				dropped++
				continue
			}
			if span, ok := functionSpan(node, source); ok {
				spans = append(spans, span)
			}
			continue
		}

		// Push in reverse so siblings are visited in source order.
		for i := int(node.NamedChildCount()) - 1; i >= 0; i-- {
			if child := node.NamedChild(uint(i)); child != nil {
				stack = append(stack, child)
			}
		}
	}

	if root.HasError() && len(spans) == 0 {
		return nil, (&coreerrors.DomainError{
			Code:    coreerrors.CodeParseFailure,
			Message: "syntax errors and no recoverable functions",
		}).WithContext(coreerrors.CtxPath, path).
			WithContext(coreerrors.CtxLanguage, t.language).
			WithContext("dropped_functions", dropped)
	}
	return spans, nil
}

func functionSpan(node *sitter.Node, source []byte) (FunctionSpan, bool) {
	body := node.ChildByFieldName("body")
	if body == nil {
		// = default, = delete and pure declarations carry no body.
		return FunctionSpan{}, false
	}
	bodyStart, bodyEnd := int(body.StartByte()), int(body.EndByte())
	if body.Kind() != "compound_statement" {
		// function-try-block: hash from the first brace like ctags would.
		open := strings.IndexByte(string(source[bodyStart:bodyEnd]), '{')
		if open < 0 {
			return FunctionSpan{}, false
		}
		bodyStart += open
	}

	name := declaratorName(node.ChildByFieldName("declarator"), source)
	if name == "" {
		name = anonymousFunction
	}
	return FunctionSpan{
		Name:      name,
		StartLine: int(node.StartPosition().Row) + 1,
		EndLine:   int(node.EndPosition().Row) + 1,
		StartByte: int(node.StartByte()),
		EndByte:   int(node.EndByte()),
		BodyStart: bodyStart,
		BodyEnd:   bodyEnd,
	}, true
}

// declaratorName follows a declarator chain (pointer, reference, parenthesized
// and function declarators) down to the name it declares.
func declaratorName(node *sitter.Node, source []byte) string {
	for depth := 0; node != nil && depth < 64; depth++ {
		switch node.Kind() {
		case "identifier", "field_identifier", "qualified_identifier",
			"destructor_name", "operator_name", "operator_cast":
			return compactName(node.Utf8Text(source))
		case "template_function", "template_method":
			if name := node.ChildByFieldName("name"); name != nil {
				return compactName(name.Utf8Text(source))
			}
			return compactName(node.Utf8Text(source))
		}

		next := node.ChildByFieldName("declarator")
		if next == nil {
			next = firstDeclaratorChild(node)
		}
		node = next
	}
	return ""
}

func firstDeclaratorChild(node *sitter.Node) *sitter.Node {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "parameter_list", "attribute_specifier", "attribute_declaration",
			"type_qualifier", "ms_call_modifier", "ms_pointer_modifier", "comment":
			continue
		}
		return child
	}
	return nil
}

func compactName(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
