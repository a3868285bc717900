package config

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

var knownLanguages = map[string]bool{"c": true, "cpp": true}

func validateVersion(cfg *Config) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateExtract(cfg *Config) error {
	switch cfg.Extract.Backend {
	case BackendTreeSitter, BackendCtags:
	default:
		return fmt.Errorf("extract.backend must be one of: %s, %s", BackendTreeSitter, BackendCtags)
	}
	if cfg.Extract.Backend == BackendCtags && strings.TrimSpace(cfg.Extract.CtagsPath) == "" {
		return fmt.Errorf("extract.ctags_path must not be empty when extract.backend=ctags")
	}
	if cfg.Extract.MinBodyTokens < 0 {
		return fmt.Errorf("extract.min_body_tokens must be >= 0")
	}
	return nil
}

func validateCollect(cfg *Config) error {
	if cfg.Collect.Workers > 256 {
		return fmt.Errorf("collect.workers must be between 1 and 256")
	}
	if cfg.Collect.FileWorkers > 1024 {
		return fmt.Errorf("collect.file_workers must be between 1 and 1024")
	}
	if cfg.Collect.MaxVersions < 0 {
		return fmt.Errorf("collect.max_versions must be >= 0")
	}
	if strings.TrimSpace(cfg.Collect.GitPath) == "" {
		return fmt.Errorf("collect.git_path must not be empty")
	}
	return nil
}

func validatePreprocess(cfg *Config) error {
	switch cfg.Preprocess.Mode {
	case ModeFull, ModeLite:
		return nil
	}
	return fmt.Errorf("preprocess.mode must be one of: %s, %s", ModeFull, ModeLite)
}

func validateDetect(cfg *Config) error {
	if cfg.Detect.Threshold < 0 || cfg.Detect.Threshold > 1 {
		return fmt.Errorf("detect.threshold must be between 0 and 1, got %v", cfg.Detect.Threshold)
	}
	switch cfg.Detect.VersionTiebreak {
	case TiebreakNewest, TiebreakOldest:
	default:
		return fmt.Errorf("detect.version_tiebreak must be one of: %s, %s", TiebreakNewest, TiebreakOldest)
	}
	switch cfg.Detect.Format {
	case FormatJSON, FormatCycloneDX, FormatMarkdown, FormatTSV:
	default:
		return fmt.Errorf("detect.format must be one of: %s, %s, %s, %s", FormatJSON, FormatCycloneDX, FormatMarkdown, FormatTSV)
	}
	return nil
}

func validateLanguages(cfg *Config) error {
	seen := make(map[string]string)
	for id, lang := range cfg.Languages {
		if !knownLanguages[id] {
			return fmt.Errorf("languages.%s: unknown language (supported: c, cpp)", id)
		}
		if !lang.IsEnabled() {
			continue
		}
		for _, ext := range lang.Extensions {
			if owner, ok := seen[ext]; ok && owner != id {
				return fmt.Errorf("languages.%s: extension %q already claimed by %s", id, ext, owner)
			}
			seen[ext] = id
		}
	}
	return nil
}

func validateExclude(cfg *Config) error {
	for _, p := range cfg.Exclude.Dirs {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("exclude.dirs: invalid pattern %q: %w", p, err)
		}
	}
	for _, p := range cfg.Exclude.Files {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("exclude.files: invalid pattern %q: %w", p, err)
		}
	}
	return nil
}
