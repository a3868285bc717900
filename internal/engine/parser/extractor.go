package parser

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	coreerrors "ossmatch/internal/core/errors"
)

const (
	BackendTreeSitter = "treesitter"
	BackendCtags      = "ctags"
)

type ExtractorOptions struct {
	Backend           string
	CtagsPath         string
	MaxFileBytes      int64
	SkipGenerated     bool
	KeepErrorSubtrees bool
	// Taggers replaces the backend for the given language ids.
	Taggers map[string]Tagger
}

// Extractor maps a source file to the functions it defines. It holds no
// per-call state and is safe for concurrent use.
type Extractor struct {
	languages map[string]LanguageSpec
	byExt     map[string]string
	taggers   map[string]Tagger
	opts      ExtractorOptions
}

func NewExtractor(registry map[string]LanguageSpec, opts ExtractorOptions) (*Extractor, error) {
	if opts.Backend == "" {
		opts.Backend = BackendTreeSitter
	}

	e := &Extractor{
		languages: make(map[string]LanguageSpec),
		byExt:     make(map[string]string),
		taggers:   make(map[string]Tagger),
		opts:      opts,
	}
	for _, id := range sortedLanguageIDs(registry) {
		spec := registry[id]
		if !spec.Enabled {
			continue
		}
		e.languages[id] = spec
		for _, ext := range spec.Extensions {
			if owner, taken := e.byExt[ext]; taken {
				return nil, coreerrors.New(coreerrors.CodeConfig,
					fmt.Sprintf("extension %q is claimed by both %s and %s", ext, owner, id))
			}
			e.byExt[ext] = id
		}
	}

	var (
		grammars *GrammarLoader
		ctags    string
	)
	for _, id := range sortedLanguageIDs(e.languages) {
		if tagger, ok := opts.Taggers[id]; ok {
			e.taggers[id] = tagger
			continue
		}
		switch opts.Backend {
		case BackendTreeSitter:
			if grammars == nil {
				loaded, err := NewGrammarLoader(e.languages)
				if err != nil {
					return nil, coreerrors.Wrap(err, coreerrors.CodeConfig, "load grammars")
				}
				grammars = loaded
			}
			e.taggers[id] = NewTreeSitterTagger(id, grammars.Language(id), opts.KeepErrorSubtrees)
		case BackendCtags:
			if ctags == "" {
				resolved, err := exec.LookPath(firstNonEmpty(opts.CtagsPath, "ctags"))
				if err != nil {
					return nil, coreerrors.AddContext(
						coreerrors.Wrap(err, coreerrors.CodeConfig, "ctags binary not found"),
						"ctags_path", opts.CtagsPath,
					)
				}
				ctags = resolved
			}
			spec := e.languages[id]
			e.taggers[id] = NewCtagsTagger(ctags, id, spec.CtagsName, firstExtension(spec))
		default:
			return nil, coreerrors.New(coreerrors.CodeConfig, fmt.Sprintf("unknown extract backend %q", opts.Backend))
		}
	}
	return e, nil
}

// Language returns the language id for path, or "" when no enabled language
// claims its extension.
func (e *Extractor) Language(path string) string {
	return e.byExt[strings.ToLower(filepath.Ext(path))]
}

func (e *Extractor) IsSupportedPath(path string) bool {
	return e.Language(path) != ""
}

func (e *Extractor) SupportedExtensions() []string {
	exts := make([]string, 0, len(e.byExt))
	for ext := range e.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract returns the functions defined in content ordered by start byte.
// Generated files yield no functions and no error. Oversized files and files
// the tagger cannot make sense of return a PARSE_FAILURE error.
func (e *Extractor) Extract(path string, content []byte) ([]SourceFunction, error) {
	lang := e.Language(path)
	if lang == "" {
		return nil, (&coreerrors.DomainError{
			Code:    coreerrors.CodeNotSupported,
			Message: "no language registered for file extension",
		}).WithContext(coreerrors.CtxPath, path)
	}
	if e.opts.MaxFileBytes > 0 && int64(len(content)) > e.opts.MaxFileBytes {
		return nil, (&coreerrors.DomainError{
			Code:    coreerrors.CodeParseFailure,
			Message: fmt.Sprintf("file is %d bytes, limit is %d", len(content), e.opts.MaxFileBytes),
		}).WithContext(coreerrors.CtxPath, path).WithContext(coreerrors.CtxLanguage, lang)
	}
	if e.opts.SkipGenerated && IsGeneratedFile(path, content) {
		slog.Debug("skipping generated file", "path", path)
		return nil, nil
	}

	spans, err := e.taggers[lang].Tag(path, content)
	if err != nil {
		if coreerrors.CodeOf(err) == "" {
			err = coreerrors.Wrap(err, coreerrors.CodeParseFailure, "tag functions")
		}
		return nil, coreerrors.AddContext(err, coreerrors.CtxLanguage, lang)
	}

	functions := make([]SourceFunction, 0, len(spans))
	for _, span := range spans {
		if span.BodyStart < 0 || span.BodyEnd > len(content) || span.BodyStart >= span.BodyEnd {
			continue
		}
		functions = append(functions, SourceFunction{
			Path:      path,
			Language:  lang,
			Name:      span.Name,
			StartLine: span.StartLine,
			EndLine:   span.EndLine,
			StartByte: span.StartByte,
			EndByte:   span.EndByte,
			Body:      string(content[span.BodyStart:span.BodyEnd]),
		})
	}
	sort.SliceStable(functions, func(i, j int) bool {
		return functions[i].StartByte < functions[j].StartByte
	})
	return functions, nil
}

// ExtractFile reads path from disk and extracts it. Read failures are
// TRANSIENT_IO.
func (e *Extractor) ExtractFile(path string) ([]SourceFunction, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "read source file"),
			coreerrors.CtxPath, path,
		)
	}
	return e.Extract(path, content)
}

func firstExtension(spec LanguageSpec) string {
	if len(spec.Extensions) == 0 {
		return ""
	}
	return spec.Extensions[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
