// Package app wires configuration into the pipeline stages and tracks which
// stage a run has reached.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"ossmatch/internal/core/config"
	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/core/ports"
	"ossmatch/internal/data/hashdb"
	"ossmatch/internal/engine/collector"
	"ossmatch/internal/engine/detector"
	"ossmatch/internal/engine/parser"
	"ossmatch/internal/engine/preprocess"
	"ossmatch/internal/engine/sourcetree"
	"ossmatch/internal/shared/observability"
	"ossmatch/internal/shared/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type App struct {
	Config    *config.Config
	Extractor *parser.Extractor
	Scanner   *sourcetree.Scanner
	RunID     string
	// Languages is the effective registry after config overrides.
	Languages map[string]parser.LanguageSpec

	mu     sync.RWMutex
	stage  Stage
	loaded *hashdb.Database
}

func New(cfg *config.Config) (*App, error) {
	registry, err := buildLanguageRegistry(cfg)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeConfig, "build language registry")
	}
	extractor, err := parser.NewExtractor(registry, parser.ExtractorOptions{
		Backend:           cfg.Extract.Backend,
		CtagsPath:         cfg.Extract.CtagsPath,
		MaxFileBytes:      cfg.Extract.MaxFileBytes,
		SkipGenerated:     cfg.Extract.SkipGeneratedFiles(),
		KeepErrorSubtrees: cfg.Extract.KeepErrorSubtree,
	})
	if err != nil {
		return nil, err
	}
	scanner, err := sourcetree.NewScanner(cfg.Exclude.Dirs, cfg.Exclude.Files, extractor.IsSupportedPath)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeConfig, "compile exclude patterns")
	}

	return &App{
		Config:    cfg,
		Extractor: extractor,
		Scanner:   scanner,
		RunID:     uuid.NewString(),
		Languages: registry,
	}, nil
}

func buildLanguageRegistry(cfg *config.Config) (map[string]parser.LanguageSpec, error) {
	overrides := make(map[string]parser.LanguageOverride, len(cfg.Languages))
	for lang, languageCfg := range cfg.Languages {
		overrides[lang] = parser.LanguageOverride{
			Enabled:    languageCfg.Enabled,
			Extensions: append([]string(nil), languageCfg.Extensions...),
		}
	}
	return parser.BuildLanguageRegistry(overrides)
}

// Stage returns the stage the app is in or last finished.
func (a *App) Stage() Stage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stage
}

func (a *App) setStage(s Stage) {
	a.mu.Lock()
	a.stage = s
	a.mu.Unlock()
	slog.Debug("pipeline stage", "run_id", a.RunID, "stage", s.String())
}

// NewGitFetcher builds the git-backed fetcher from the [collect] section.
func (a *App) NewGitFetcher() *collector.GitFetcher {
	c := a.Config.Collect
	return collector.NewGitFetcher(collector.GitOptions{
		GitPath:     c.GitPath,
		Retries:     c.CloneRetries,
		Rate:        c.CloneRate,
		Burst:       c.CloneBurst,
		Timeout:     c.CloneTimeout,
		MaxVersions: c.MaxVersions,
	})
}

// Collect runs the collection stage. A nil fetcher uses git.
func (a *App) Collect(ctx context.Context, fetcher ports.RepoFetcher, urlListFile, outputDir string) (collector.Summary, error) {
	if fetcher == nil {
		git := a.NewGitFetcher()
		if err := git.Available(); err != nil {
			return collector.Summary{RunID: a.RunID}, err
		}
		fetcher = git
	}
	c, err := collector.New(fetcher, a.Extractor, a.Scanner, collector.Options{
		Workers:       a.Config.Collect.Workers,
		FileWorkers:   a.Config.Collect.FileWorkers,
		CacheSize:     a.Config.Collect.CacheSize,
		MinBodyTokens: a.Config.Extract.MinBodyTokens,
		RunID:         a.RunID,
	})
	if err != nil {
		return collector.Summary{RunID: a.RunID}, err
	}

	var summary collector.Summary
	err = a.runStage(ctx, StageCollecting, func(ctx context.Context) error {
		var err error
		summary, err = c.Collect(ctx, urlListFile, outputDir)
		return err
	})
	return summary, err
}

// Preprocess builds the component database for mode from a collector
// directory. An empty mode uses the configured one.
func (a *App) Preprocess(ctx context.Context, collectorDir, outputDir, mode string) (preprocess.Summary, error) {
	if mode == "" {
		mode = a.Config.Preprocess.Mode
	}
	p := preprocess.New(preprocess.Options{RunID: a.RunID})

	var summary preprocess.Summary
	err := a.runStage(ctx, StagePreprocessing, func(ctx context.Context) error {
		var err error
		summary, err = p.Preprocess(ctx, collectorDir, outputDir, mode)
		return err
	})
	return summary, err
}

// LoadDatabase opens a database file and keeps it for health reporting.
func (a *App) LoadDatabase(ctx context.Context, path string) (*hashdb.Database, error) {
	db, err := hashdb.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.loaded = db
	a.mu.Unlock()
	slog.Info("component database loaded",
		"path", path,
		"mode", db.Mode(),
		"entries", db.EntryCount(),
		"hashes", db.HashCount())
	return db, nil
}

// DetectOptions overrides [detect] settings; zero values keep the config.
type DetectOptions struct {
	Threshold *float64
	Tiebreak  string
}

// Detect scans projectDir against db.
func (a *App) Detect(ctx context.Context, projectDir string, db ports.HashIndex, overrides DetectOptions) (detector.Result, error) {
	opts := detector.Options{
		Workers:       a.Config.Detect.Workers,
		Threshold:     a.Config.Detect.Threshold,
		Tiebreak:      a.Config.Detect.VersionTiebreak,
		MinBodyTokens: a.Config.Extract.MinBodyTokens,
	}
	if overrides.Threshold != nil {
		opts.Threshold = *overrides.Threshold
	}
	if overrides.Tiebreak != "" {
		opts.Tiebreak = overrides.Tiebreak
	}
	d, err := detector.New(a.Extractor, a.Scanner, opts)
	if err != nil {
		return detector.Result{}, err
	}

	absProject, err := filepath.Abs(projectDir)
	if err != nil {
		return detector.Result{}, coreerrors.Wrap(err, coreerrors.CodeValidationError, "resolve project directory")
	}

	var result detector.Result
	err = a.runStage(ctx, StageDetecting, func(ctx context.Context) error {
		var err error
		result, err = d.Detect(ctx, absProject, db)
		return err
	})
	return result, err
}

// runStage enters stage, runs fn inside a span and records its duration.
// The stage is kept on failure so callers can tell where a run stopped.
func (a *App) runStage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	a.setStage(stage)
	ctx, span := observability.Tracer.Start(ctx, "stage."+stage.Label())
	span.SetAttributes(attribute.String("run_id", a.RunID))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	observability.StageDuration.WithLabelValues(stage.Label()).Observe(elapsed.Seconds())
	slog.Debug("stage finished",
		"run_id", a.RunID,
		"stage", stage.Label(),
		"duration", elapsed.Round(time.Millisecond),
		"heap_mb", util.HeapAllocMB(),
		"ok", err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if coreerrors.CodeOf(err) != "" {
			return coreerrors.AddContext(err, coreerrors.CtxOperation, fmt.Sprintf("stage %s", stage.Label()))
		}
		return err
	}
	return nil
}
