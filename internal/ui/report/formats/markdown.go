package formats

import (
	"fmt"
	"strings"
	"time"
)

type MarkdownReportOptions struct {
	Verbosity           string
	TableOfContents     bool
	CollapsibleSections bool
}

type MarkdownGenerator struct{}

func NewMarkdownGenerator() *MarkdownGenerator {
	return &MarkdownGenerator{}
}

func (m *MarkdownGenerator) Generate(r Report, opts MarkdownReportOptions) (string, error) {
	generated := r.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	verbosity := normalizeReportVerbosity(opts.Verbosity)

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("title: Component Detection Report\n")
	b.WriteString("project: " + nonEmpty(r.Project, "unknown") + "\n")
	b.WriteString("generated_at: " + generated.UTC().Format(time.RFC3339) + "\n")
	b.WriteString("version: " + nonEmpty(r.ToolVersion, "unknown") + "\n")
	if r.RunID != "" {
		b.WriteString("run_id: " + r.RunID + "\n")
	}
	b.WriteString("---\n\n")

	b.WriteString("# Component Detection Report\n\n")
	if opts.TableOfContents {
		b.WriteString("## Table of Contents\n")
		b.WriteString("- [Executive Summary](#executive-summary)\n")
		b.WriteString("- [Detected Components](#detected-components)\n")
		if verbosity == "detailed" {
			b.WriteString("- [Matched Functions](#matched-functions)\n")
		}
		b.WriteString("- [Skipped Files](#skipped-files)\n\n")
	}

	b.WriteString("## Executive Summary\n")
	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	b.WriteString(fmt.Sprintf("| Database Mode | %s |\n", nonEmpty(r.DatabaseMode, "unknown")))
	b.WriteString(fmt.Sprintf("| Threshold | %.2f |\n", r.Threshold))
	b.WriteString(fmt.Sprintf("| Files Scanned | %d |\n", r.Stats.FilesScanned))
	b.WriteString(fmt.Sprintf("| Functions Hashed | %d |\n", r.Stats.FunctionsHashed))
	b.WriteString(fmt.Sprintf("| Parse Failures | %d |\n", r.Stats.ParseFailures))
	b.WriteString(fmt.Sprintf("| Components Detected | %d |\n\n", len(r.Components)))

	m.writeComponents(&b, r, opts.CollapsibleSections, verbosity)
	if verbosity == "detailed" {
		m.writeMatches(&b, r, opts.CollapsibleSections)
	}
	m.writeSkipped(&b, r, opts.CollapsibleSections)
	return b.String(), nil
}

func (m *MarkdownGenerator) writeComponents(b *strings.Builder, r Report, collapsible bool, verbosity string) {
	b.WriteString("## Detected Components\n")
	if len(r.Components) == 0 {
		b.WriteString("No components above the threshold.\n\n")
		return
	}
	rows := make([]string, 0, len(r.Components))
	for i, hit := range r.Components {
		if verbosity == "summary" {
			rows = append(rows, fmt.Sprintf("| %d | `%s` | %s | %.1f%% |\n",
				i+1, hit.ComponentID, nonEmpty(hit.Version, "-"), hit.Score*100))
			continue
		}
		rows = append(rows, fmt.Sprintf("| %d | `%s` | %s | %.1f%% | %d / %d | %s |\n",
			i+1,
			hit.ComponentID,
			nonEmpty(hit.Version, "-"),
			hit.Score*100,
			hit.MatchedHashCount,
			hit.TotalFunctions,
			nonEmpty(hit.RepoURL, "-"),
		))
	}
	if verbosity == "summary" {
		m.writeTableWithCollapse(b, "Component details", collapsible, len(rows) > 10,
			[]string{"| # | Component | Version | Score |\n", "| --- | --- | --- | --- |\n"}, rows)
		return
	}
	m.writeTableWithCollapse(b, "Component details", collapsible, len(rows) > 10,
		[]string{"| # | Component | Version | Score | Matched / Total | Repository |\n", "| --- | --- | --- | --- | --- | --- |\n"}, rows)
}

func (m *MarkdownGenerator) writeMatches(b *strings.Builder, r Report, collapsible bool) {
	b.WriteString("## Matched Functions\n")
	if len(r.Components) == 0 {
		b.WriteString("No matched functions.\n\n")
		return
	}
	for _, hit := range r.Components {
		b.WriteString("### " + hit.ComponentID + "\n")
		rows := make([]string, 0, len(hit.MatchedFunctions))
		for _, fn := range hit.MatchedFunctions {
			rows = append(rows, fmt.Sprintf("| `%s` | `%s` |\n", fn.File, fn.Function))
		}
		m.writeTableWithCollapse(b, "Functions", collapsible, len(rows) > 15,
			[]string{"| File | Function |\n", "| --- | --- |\n"}, rows)
	}
}

func (m *MarkdownGenerator) writeSkipped(b *strings.Builder, r Report, collapsible bool) {
	b.WriteString("## Skipped Files\n")
	if len(r.Skipped) == 0 {
		b.WriteString("No files were skipped.\n\n")
		return
	}
	rows := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		rows = append(rows, fmt.Sprintf("| `%s` | %s |\n", s.Path, strings.ReplaceAll(s.Error, "|", "\\|")))
	}
	m.writeTableWithCollapse(b, "Skipped file details", collapsible, len(rows) > 15,
		[]string{"| File | Reason |\n", "| --- | --- |\n"}, rows)
}

func (m *MarkdownGenerator) writeTableWithCollapse(
	b *strings.Builder,
	summary string,
	collapsible bool,
	collapse bool,
	header []string,
	rows []string,
) {
	if collapsible && collapse {
		b.WriteString("<details>\n")
		b.WriteString("<summary>")
		b.WriteString(summary)
		b.WriteString("</summary>\n\n")
	}
	for _, line := range header {
		b.WriteString(line)
	}
	for _, line := range rows {
		b.WriteString(line)
	}
	b.WriteString("\n")
	if collapsible && collapse {
		b.WriteString("</details>\n\n")
	}
}

func normalizeReportVerbosity(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "summary":
		return "summary"
	case "detailed":
		return "detailed"
	default:
		return "standard"
	}
}

func nonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
