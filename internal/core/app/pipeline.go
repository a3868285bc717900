package app

import (
	"context"
	"log/slog"
	"path/filepath"

	"ossmatch/internal/core/ports"
	"ossmatch/internal/data/hashdb"
	"ossmatch/internal/engine/collector"
	"ossmatch/internal/engine/detector"
	"ossmatch/internal/engine/preprocess"
)

type PipelineRequest struct {
	URLList      string
	CollectorDir string
	DatabaseDir  string
	ProjectDir   string
	Mode         string
	// Fetcher replaces git when set.
	Fetcher ports.RepoFetcher
	Detect  DetectOptions
}

type PipelineResult struct {
	RunID        string
	DatabasePath string
	Collect      collector.Summary
	Preprocess   preprocess.Summary
	Detect       detector.Result
}

// Run drives every stage in order. A failing stage stops the run and leaves
// Stage() pointing at it; earlier output stays on disk for a rerun.
func (a *App) Run(ctx context.Context, req PipelineRequest) (PipelineResult, error) {
	result := PipelineResult{RunID: a.RunID}
	mode := req.Mode
	if mode == "" {
		mode = a.Config.Preprocess.Mode
	}

	var err error
	result.Collect, err = a.Collect(ctx, req.Fetcher, req.URLList, req.CollectorDir)
	if err != nil {
		return result, err
	}
	if result.Collect.RepositoriesFailed > 0 {
		slog.Warn("continuing with partial collection", "failed", result.Collect.FailedURLs)
	}

	result.Preprocess, err = a.Preprocess(ctx, req.CollectorDir, req.DatabaseDir, mode)
	if err != nil {
		return result, err
	}
	result.DatabasePath = filepath.Join(req.DatabaseDir, hashdb.FileName(mode))

	db, err := a.LoadDatabase(ctx, result.DatabasePath)
	if err != nil {
		return result, err
	}
	result.Detect, err = a.Detect(ctx, req.ProjectDir, db, req.Detect)
	if err != nil {
		return result, err
	}

	a.setStage(StageDone)
	return result, nil
}
