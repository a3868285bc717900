package formats

import (
	"time"

	"ossmatch/internal/engine/detector"
)

// Report is the serializable outcome of one detection run.
type Report struct {
	GeneratedAt  time.Time              `json:"generated_at"`
	RunID        string                 `json:"run_id,omitempty"`
	ToolVersion  string                 `json:"tool_version"`
	Project      string                 `json:"project"`
	DatabaseMode string                 `json:"database_mode"`
	Threshold    float64                `json:"threshold"`
	Stats        Stats                  `json:"stats"`
	Components   []detector.Hit         `json:"components"`
	Skipped      []detector.FileFailure `json:"skipped"`
}

type Stats struct {
	FilesScanned    int     `json:"files_scanned"`
	FunctionsHashed int     `json:"functions_hashed"`
	ParseFailures   int     `json:"parse_failures"`
	DurationSeconds float64 `json:"duration_seconds"`
}
