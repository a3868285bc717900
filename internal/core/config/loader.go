package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"ossmatch/internal/core/errors"

	"github.com/BurntSushi/toml"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.CodeNotFound, "config file not found")
		}
		return nil, errors.Wrap(err, errors.CodeConfig, "read config")
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "decode config")
	}

	applyDefaults(&cfg)
	normalize(&cfg)
	resolvePaths(&cfg, filepath.Dir(path))

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs every section validator and reports the first failure as a
// config error.
func Validate(cfg *Config) error {
	validators := []func(*Config) error{
		validateVersion,
		validateExtract,
		validateCollect,
		validatePreprocess,
		validateDetect,
		validateLanguages,
		validateExclude,
	}
	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			return errors.Wrap(err, errors.CodeConfig, "invalid config")
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if len(cfg.Exclude.Dirs) == 0 {
		cfg.Exclude.Dirs = []string{".git", ".svn", ".hg"}
	}

	if strings.TrimSpace(cfg.Extract.Backend) == "" {
		cfg.Extract.Backend = BackendTreeSitter
	}
	if strings.TrimSpace(cfg.Extract.CtagsPath) == "" {
		cfg.Extract.CtagsPath = "ctags"
	}
	if cfg.Extract.MaxFileBytes <= 0 {
		cfg.Extract.MaxFileBytes = 4 << 20
	}

	workers := runtime.GOMAXPROCS(0)
	if cfg.Collect.Workers <= 0 {
		cfg.Collect.Workers = 4
	}
	if cfg.Collect.FileWorkers <= 0 {
		cfg.Collect.FileWorkers = workers
	}
	if strings.TrimSpace(cfg.Collect.GitPath) == "" {
		cfg.Collect.GitPath = "git"
	}
	if cfg.Collect.CloneRetries <= 0 {
		cfg.Collect.CloneRetries = 3
	}
	if cfg.Collect.CloneRate <= 0 {
		cfg.Collect.CloneRate = 2
	}
	if cfg.Collect.CloneBurst <= 0 {
		cfg.Collect.CloneBurst = cfg.Collect.Workers
	}
	if cfg.Collect.CloneTimeout <= 0 {
		cfg.Collect.CloneTimeout = 30 * time.Minute
	}
	if cfg.Collect.CacheSize <= 0 {
		cfg.Collect.CacheSize = 8192
	}

	if strings.TrimSpace(cfg.Preprocess.Mode) == "" {
		cfg.Preprocess.Mode = ModeFull
	}

	if cfg.Detect.Workers <= 0 {
		cfg.Detect.Workers = workers
	}
	if cfg.Detect.Threshold == 0 {
		cfg.Detect.Threshold = 0.1
	}
	if strings.TrimSpace(cfg.Detect.VersionTiebreak) == "" {
		cfg.Detect.VersionTiebreak = TiebreakNewest
	}
	if strings.TrimSpace(cfg.Detect.Format) == "" {
		cfg.Detect.Format = FormatJSON
	}
	if cfg.Detect.WatchDebounce <= 0 {
		cfg.Detect.WatchDebounce = 500 * time.Millisecond
	}

	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = "ossmatch"
	}
}

func normalize(cfg *Config) {
	cfg.Extract.Backend = strings.ToLower(strings.TrimSpace(cfg.Extract.Backend))
	cfg.Preprocess.Mode = strings.ToLower(strings.TrimSpace(cfg.Preprocess.Mode))
	cfg.Detect.VersionTiebreak = strings.ToLower(strings.TrimSpace(cfg.Detect.VersionTiebreak))
	cfg.Detect.Format = strings.ToLower(strings.TrimSpace(cfg.Detect.Format))
	cfg.Paths.CollectorDir = strings.TrimSpace(cfg.Paths.CollectorDir)
	cfg.Paths.DatabaseDir = strings.TrimSpace(cfg.Paths.DatabaseDir)
	cfg.Paths.ReportPath = strings.TrimSpace(cfg.Paths.ReportPath)
	cfg.Paths.HistoryDB = strings.TrimSpace(cfg.Paths.HistoryDB)

	if len(cfg.Languages) == 0 {
		return
	}
	normalized := make(map[string]Language, len(cfg.Languages))
	for id, lang := range cfg.Languages {
		exts := make([]string, 0, len(lang.Extensions))
		for _, ext := range lang.Extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			exts = append(exts, ext)
		}
		lang.Extensions = exts
		normalized[strings.ToLower(strings.TrimSpace(id))] = lang
	}
	cfg.Languages = normalized
}

// resolvePaths anchors relative [paths] entries at the config file's
// directory. The report path "-" means stdout and is left alone.
func resolvePaths(cfg *Config, base string) {
	for _, p := range []*string{&cfg.Paths.CollectorDir, &cfg.Paths.DatabaseDir, &cfg.Paths.ReportPath, &cfg.Paths.HistoryDB} {
		if *p == "" || *p == "-" {
			continue
		}
		*p = ResolveRelative(base, *p)
	}
}
