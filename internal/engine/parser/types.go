package parser

// SourceFunction is one function definition found in a source file. Body is
// the raw text of the function's compound statement, braces included; it is
// only held transiently while the function is fingerprinted.
type SourceFunction struct {
	Path      string
	Language  string
	Name      string
	StartLine int
	EndLine   int
	StartByte int
	EndByte   int
	Body      string
}

// FunctionSpan is what a Tagger reports for a function: its name, the line
// and byte range of the whole definition, and the byte range of its body.
type FunctionSpan struct {
	Name      string
	StartLine int
	EndLine   int
	StartByte int
	EndByte   int
	BodyStart int
	BodyEnd   int
}

// Tagger locates function boundaries in source text of one language. It is
// the pluggable capability behind the Extractor; implementations must be
// deterministic and safe for concurrent use.
type Tagger interface {
	Tag(path string, source []byte) ([]FunctionSpan, error)
}
