// Package sourcetree enumerates the source files of a directory tree that the
// extractor can handle, honoring exclude globs.
package sourcetree

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"ossmatch/internal/shared/util"

	"github.com/gobwas/glob"
)

type Scanner struct {
	dirGlobs  []glob.Glob
	fileGlobs []glob.Glob
	supported func(path string) bool
}

// NewScanner compiles the exclude patterns. A pattern is matched against both
// the entry's base name and its slash-separated path relative to the scan
// root, so "vendor" and "third_party/*/tests" both work.
func NewScanner(excludeDirs, excludeFiles []string, supported func(path string) bool) (*Scanner, error) {
	dirGlobs, err := compileGlobs(excludeDirs, "dir")
	if err != nil {
		return nil, err
	}
	fileGlobs, err := compileGlobs(excludeFiles, "file")
	if err != nil {
		return nil, err
	}
	return &Scanner{dirGlobs: dirGlobs, fileGlobs: fileGlobs, supported: supported}, nil
}

func compileGlobs(patterns []string, kind string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude %s pattern %q: %w", kind, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Scan returns the supported regular files under root in lexical order.
// Symlinks are not followed.
func (s *Scanner) Scan(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if s.Excluded(root, path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || s.Excluded(root, path, false) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Excluded reports whether Scan would skip path under root. Directories are
// checked against the dir patterns only; files must also be supported.
func (s *Scanner) Excluded(root, path string, isDir bool) bool {
	rel := util.RelativeSlashPath(root, path)
	base := filepath.Base(path)
	if isDir {
		return path != root && matchAny(s.dirGlobs, base, rel)
	}
	if s.supported != nil && !s.supported(path) {
		return true
	}
	return matchAny(s.fileGlobs, base, rel)
}

func matchAny(globs []glob.Glob, base, rel string) bool {
	for _, g := range globs {
		if g.Match(base) || g.Match(rel) {
			return true
		}
	}
	return false
}
