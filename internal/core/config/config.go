package config

import (
	"time"
)

type Config struct {
	Version       int                 `toml:"version"`
	Paths         Paths               `toml:"paths"`
	Languages     map[string]Language `toml:"languages"`
	Exclude       Exclude             `toml:"exclude"`
	Extract       Extract             `toml:"extract"`
	Collect       Collect             `toml:"collect"`
	Preprocess    Preprocess          `toml:"preprocess"`
	Detect        Detect              `toml:"detect"`
	Observability Observability       `toml:"observability"`
}

// Paths holds optional defaults for stage directories. Every stage still takes
// its directories explicitly; these only fill in CLI flags left empty.
type Paths struct {
	CollectorDir string `toml:"collector_dir"`
	DatabaseDir  string `toml:"database_dir"`
	ReportPath   string `toml:"report_path"`
	// HistoryDB records every detection run when set.
	HistoryDB string `toml:"history_db"`
}

type Language struct {
	Enabled    *bool    `toml:"enabled"`
	Extensions []string `toml:"extensions"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

type Extract struct {
	Backend          string `toml:"backend"`
	CtagsPath        string `toml:"ctags_path"`
	MaxFileBytes     int64  `toml:"max_file_bytes"`
	SkipGenerated    *bool  `toml:"skip_generated"`
	MinBodyTokens    int    `toml:"min_body_tokens"`
	KeepErrorSubtree bool   `toml:"keep_error_subtrees"`
}

type Collect struct {
	Workers      int           `toml:"workers"`
	FileWorkers  int           `toml:"file_workers"`
	GitPath      string        `toml:"git_path"`
	CloneRetries int           `toml:"clone_retries"`
	CloneRate    float64       `toml:"clone_rate"`
	CloneBurst   int           `toml:"clone_burst"`
	CloneTimeout time.Duration `toml:"clone_timeout"`
	MaxVersions  int           `toml:"max_versions"`
	CacheSize    int           `toml:"cache_size"`
}

type Preprocess struct {
	Mode string `toml:"mode"`
}

type Detect struct {
	Workers         int     `toml:"workers"`
	Threshold       float64 `toml:"threshold"`
	VersionTiebreak string  `toml:"version_tiebreak"`
	Format          string  `toml:"format"`
	// WatchDebounce batches file events in watch mode.
	WatchDebounce time.Duration `toml:"watch_debounce"`
}

type Observability struct {
	MetricsAddr  string `toml:"metrics_addr"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	OTLPInsecure bool   `toml:"otlp_insecure"`
	ServiceName  string `toml:"service_name"`
}

const (
	BackendTreeSitter = "treesitter"
	BackendCtags      = "ctags"

	ModeFull = "full"
	ModeLite = "lite"

	TiebreakNewest = "newest"
	TiebreakOldest = "oldest"

	FormatJSON      = "json"
	FormatCycloneDX = "cyclonedx"
	FormatMarkdown  = "markdown"
	FormatTSV       = "tsv"
)

// DefaultConfig returns a configuration with every default applied, used
// when no config file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func (e Extract) SkipGeneratedFiles() bool {
	if e.SkipGenerated == nil {
		return true
	}
	return *e.SkipGenerated
}

func (l Language) IsEnabled() bool {
	if l.Enabled == nil {
		return true
	}
	return *l.Enabled
}
