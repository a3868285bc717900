// Package records owns the collector's on-disk output: one partition
// directory per component holding a JSON Lines file per version and a
// manifest describing the component.
package records

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"ossmatch/internal/engine/fingerprint"
)

// UnknownVersion labels the HEAD snapshot of a repository without tags.
const UnknownVersion = "unknown"

const (
	repoSourceDir = "repo_src"
	recordsDir    = "records"
	manifestName  = "manifest.json"
	recordExt     = ".jsonl"

	componentSeparator = "@@"
)

// ComponentVersion identifies one release of one component.
type ComponentVersion struct {
	ComponentID string
	Version     string
	RepoURL     string
	ReleasedAt  time.Time
}

// RawHashRecord is one extracted function as the collector persists it.
type RawHashRecord struct {
	Component string           `json:"component"`
	Version   string           `json:"version"`
	RepoURL   string           `json:"repo_url"`
	File      string           `json:"file"`
	Function  string           `json:"function"`
	StartLine int              `json:"start_line"`
	EndLine   int              `json:"end_line"`
	Hash      fingerprint.Hash `json:"hash"`
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ComponentIDFromURL derives the stable component id owner@@name from a
// repository URL. https, ssh (git@host:owner/name) and local paths are
// accepted; a trailing .git is ignored.
func ComponentIDFromURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty repository url")
	}

	repoPath := trimmed
	if u, err := url.Parse(trimmed); err == nil && u.Scheme != "" && u.Host != "" {
		repoPath = u.Path
	} else if at := strings.Index(trimmed, "@"); at >= 0 && strings.Contains(trimmed[at:], ":") && !strings.Contains(trimmed, "://") {
		repoPath = trimmed[strings.Index(trimmed[at:], ":")+at+1:]
	}

	repoPath = strings.TrimSuffix(strings.Trim(filepath.ToSlash(repoPath), "/"), ".git")
	parts := strings.Split(repoPath, "/")
	if len(parts) < 2 || parts[len(parts)-1] == "" || parts[len(parts)-2] == "" {
		return "", fmt.Errorf("cannot derive owner and name from %q", raw)
	}
	owner := sanitizeIDPart(parts[len(parts)-2])
	name := sanitizeIDPart(parts[len(parts)-1])
	if owner == "" || name == "" {
		return "", fmt.Errorf("cannot derive owner and name from %q", raw)
	}
	return owner + componentSeparator + name, nil
}

// SplitComponentID returns the owner and name halves of a component id.
func SplitComponentID(id string) (owner, name string, ok bool) {
	return strings.Cut(id, componentSeparator)
}

func sanitizeIDPart(s string) string {
	s = unsafeIDChars.ReplaceAllString(s, "_")
	return strings.Trim(s, ".")
}

// VersionFileName encodes a tag name, which may contain slashes, as a flat
// file name.
func VersionFileName(version string) string {
	return url.PathEscape(version) + recordExt
}

// VersionFromFileName reverses VersionFileName. ok is false for files that
// are not version record files.
func VersionFromFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
		return "", false
	}
	version, err := url.PathUnescape(strings.TrimSuffix(name, recordExt))
	if err != nil || version == "" {
		return "", false
	}
	return version, true
}

// Layout resolves paths under a collector output directory.
type Layout struct {
	Root string
}

func (l Layout) RepoDir(component string) string {
	return filepath.Join(l.Root, repoSourceDir, component)
}

func (l Layout) RecordsDir() string { return filepath.Join(l.Root, recordsDir) }

func (l Layout) ComponentDir(component string) string {
	return filepath.Join(l.Root, recordsDir, component)
}

func (l Layout) VersionPath(component, version string) string {
	return filepath.Join(l.ComponentDir(component), VersionFileName(version))
}

func (l Layout) ManifestPath(component string) string {
	return filepath.Join(l.ComponentDir(component), manifestName)
}
