package report

import (
	"fmt"
	"strings"
	"time"

	"ossmatch/internal/data/history"
	"ossmatch/internal/engine/collector"
	"ossmatch/internal/engine/preprocess"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	failureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)

	labelStyle = lipgloss.NewStyle().Width(20)
)

func line(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

// RenderDetectSummary renders the ranked components for a terminal.
func RenderDetectSummary(r Report) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Component detection") + "\n")
	b.WriteString(statusStyle.Render(fmt.Sprintf("%s · %s database · threshold %.2f", r.Project, r.DatabaseMode, r.Threshold)) + "\n\n")
	b.WriteString(line("Files scanned", r.Stats.FilesScanned) + "\n")
	b.WriteString(line("Functions hashed", r.Stats.FunctionsHashed) + "\n")
	if r.Stats.ParseFailures > 0 {
		b.WriteString(line("Parse failures", warnStyle.Render(fmt.Sprint(r.Stats.ParseFailures))) + "\n")
	}
	b.WriteString("\n")

	if len(r.Components) == 0 {
		b.WriteString(successStyle.Render("No known components found.") + "\n")
		return docStyle.Render(b.String())
	}
	for i, hit := range r.Components {
		name := hit.ComponentID
		if hit.Version != "" {
			name += " " + hit.Version
		}
		style := warnStyle
		if hit.Score >= 0.5 {
			style = failureStyle
		}
		b.WriteString(fmt.Sprintf("%2d. %s  %s  %s\n",
			i+1,
			style.Render(fmt.Sprintf("%5.1f%%", hit.Score*100)),
			name,
			statusStyle.Render(fmt.Sprintf("(%d/%d functions)", hit.MatchedHashCount, hit.TotalFunctions)),
		))
	}
	return docStyle.Render(b.String())
}

func RenderCollectSummary(s collector.Summary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Collection") + "\n")
	b.WriteString(statusStyle.Render("run "+s.RunID) + "\n\n")
	b.WriteString(line("Repositories", fmt.Sprintf("%d done, %d skipped, %d failed",
		s.RepositoriesDone, s.RepositoriesSkipped, s.RepositoriesFailed)) + "\n")
	b.WriteString(line("Versions", fmt.Sprintf("%d written, %d skipped, %d failed",
		s.VersionsWritten, s.VersionsSkipped, s.VersionsFailed)) + "\n")
	b.WriteString(line("Files parsed", s.FilesParsed) + "\n")
	b.WriteString(line("Parse failures", s.ParseFailures) + "\n")
	b.WriteString(line("Functions hashed", s.FunctionsHashed) + "\n")
	b.WriteString(line("Cache hits", s.CacheHits) + "\n")
	b.WriteString(line("Duration", s.Duration.Round(time.Millisecond)) + "\n")
	if len(s.FailedURLs) > 0 {
		b.WriteString("\n" + failureStyle.Render("Failed repositories:") + "\n")
		for _, u := range s.FailedURLs {
			b.WriteString("  " + u + "\n")
		}
	}
	return docStyle.Render(b.String())
}

func RenderPreprocessSummary(s preprocess.Summary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Preprocessing") + "\n")
	b.WriteString(statusStyle.Render(s.DatabasePath) + "\n\n")
	b.WriteString(line("Mode", s.Mode) + "\n")
	b.WriteString(line("Components", s.Components) + "\n")
	b.WriteString(line("Versions", s.Versions) + "\n")
	b.WriteString(line("Entries", s.Entries) + "\n")
	b.WriteString(line("Unique hashes", s.UniqueHashes) + "\n")
	b.WriteString(line("Shared hashes", s.SharedHashes) + "\n")
	skipped := fmt.Sprint(s.SkippedRecords)
	if s.SkippedRecords > 0 {
		skipped = warnStyle.Render(skipped)
	}
	b.WriteString(line("Skipped records", skipped) + "\n")
	return docStyle.Render(b.String())
}

// RenderHistoryDiff shows how the latest scan differs from the previous one.
func RenderHistoryDiff(d history.Diff) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Changes since last scan") + "\n")
	if d.Empty() {
		b.WriteString(statusStyle.Render("no component changes") + "\n")
		return docStyle.Render(b.String())
	}
	for _, c := range d.Added {
		b.WriteString(failureStyle.Render("+ ") + withVersion(c.ComponentID, c.Version) + "\n")
	}
	for _, c := range d.Removed {
		b.WriteString(successStyle.Render("- ") + withVersion(c.ComponentID, c.Version) + "\n")
	}
	for _, c := range d.Changed {
		b.WriteString(warnStyle.Render("~ ") + fmt.Sprintf("%s %s -> %s", c.ComponentID, versionOrDash(c.From), versionOrDash(c.To)) + "\n")
	}
	return docStyle.Render(b.String())
}

func withVersion(id, version string) string {
	if version == "" {
		return id
	}
	return id + " " + version
}

func versionOrDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
