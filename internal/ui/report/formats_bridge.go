package report

import (
	"ossmatch/internal/ui/report/formats"
)

type Report = formats.Report
type Stats = formats.Stats
type JSONGenerator = formats.JSONGenerator
type CycloneDXGenerator = formats.CycloneDXGenerator
type MarkdownGenerator = formats.MarkdownGenerator
type MarkdownReportOptions = formats.MarkdownReportOptions
type TSVGenerator = formats.TSVGenerator

func NewJSONGenerator() *JSONGenerator {
	return formats.NewJSONGenerator()
}

func NewCycloneDXGenerator() *CycloneDXGenerator {
	return formats.NewCycloneDXGenerator()
}

func NewMarkdownGenerator() *MarkdownGenerator {
	return formats.NewMarkdownGenerator()
}

func NewTSVGenerator() *TSVGenerator {
	return formats.NewTSVGenerator()
}
