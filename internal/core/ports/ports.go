package ports

import (
	"context"
	"time"

	"ossmatch/internal/data/hashdb"
	"ossmatch/internal/engine/fingerprint"
	"ossmatch/internal/engine/parser"
)

// FunctionExtractor abstracts language detection and function extraction.
type FunctionExtractor interface {
	Extract(path string, content []byte) ([]parser.SourceFunction, error)
	ExtractFile(path string) ([]parser.SourceFunction, error)
	Language(path string) string
	IsSupportedPath(path string) bool
	SupportedExtensions() []string
}

// FunctionTagger is the pluggable boundary finder behind an extractor.
type FunctionTagger = parser.Tagger

// Revision is a checkout-able snapshot of a repository: a tag, or the
// repository HEAD labelled "unknown" when it has no tags.
type Revision struct {
	Name       string
	ReleasedAt time.Time
}

// RepoFetcher acquires repositories and materializes their revisions in a
// working tree.
type RepoFetcher interface {
	// Acquire clones url into dir, or refreshes an existing clone.
	Acquire(ctx context.Context, url, dir string) error
	// Revisions lists the revisions of the clone in dir, oldest first.
	Revisions(ctx context.Context, dir string) ([]Revision, error)
	// Checkout switches the working tree in dir to rev.
	Checkout(ctx context.Context, dir string, rev Revision) error
}

// HashIndex is the read side of the component hash database.
type HashIndex interface {
	Mode() string
	Lookup(h fingerprint.Hash) []hashdb.EntryID
	Entry(id hashdb.EntryID) hashdb.Entry
}
