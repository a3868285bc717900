// Package report renders detection results for files and terminals.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/engine/detector"
	"ossmatch/internal/shared/util"
	"ossmatch/internal/shared/version"
)

const (
	FormatJSON      = "json"
	FormatCycloneDX = "cyclonedx"
	FormatMarkdown  = "markdown"
	FormatTSV       = "tsv"
)

// Build converts a detection result into a report. Empty lists are kept as
// empty arrays so consumers never see null.
func Build(result detector.Result, runID string, now time.Time) Report {
	r := Report{
		GeneratedAt:  now.UTC(),
		RunID:        runID,
		ToolVersion:  version.Version,
		Project:      result.Project,
		DatabaseMode: result.Mode,
		Threshold:    result.Threshold,
		Stats: Stats{
			FilesScanned:    result.FilesScanned,
			FunctionsHashed: result.FunctionsHashed,
			ParseFailures:   len(result.ParseFailures),
			DurationSeconds: result.Duration.Seconds(),
		},
		Components: append([]detector.Hit(nil), result.Hits...),
		Skipped:    result.ParseFailures,
	}
	if r.Components == nil {
		r.Components = []detector.Hit{}
	}
	for i := range r.Components {
		if r.Components[i].MatchedFunctions == nil {
			r.Components[i].MatchedFunctions = []detector.MatchedFunction{}
		}
	}
	if r.Skipped == nil {
		r.Skipped = []detector.FileFailure{}
	}
	return r
}

// Render serializes r in the named format.
func Render(r Report, format string) ([]byte, error) {
	switch format {
	case "", FormatJSON:
		return NewJSONGenerator().Generate(r)
	case FormatCycloneDX:
		return NewCycloneDXGenerator().Generate(r)
	case FormatMarkdown:
		out, err := NewMarkdownGenerator().Generate(r, MarkdownReportOptions{
			Verbosity:           "detailed",
			TableOfContents:     true,
			CollapsibleSections: true,
		})
		return []byte(out), err
	case FormatTSV:
		out, err := NewTSVGenerator().Generate(r)
		return []byte(out), err
	}
	return nil, coreerrors.New(coreerrors.CodeValidationError, fmt.Sprintf("unknown report format %q", format))
}

// Write renders r to w.
func Write(w io.Writer, r Report, format string) error {
	data, err := Render(r, format)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteFile renders r to path atomically, or to stdout when path is "-".
func WriteFile(path string, r Report, format string) error {
	data, err := Render(r, format)
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := util.WriteFileAtomic(path, data, 0o644); err != nil {
		return coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "write report"),
			coreerrors.CtxPath, path,
		)
	}
	return nil
}
