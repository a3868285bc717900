package app

import (
	"context"
	"log/slog"

	"ossmatch/internal/data/history"
	"ossmatch/internal/engine/detector"
)

// ScanFromResult converts a detection result into a history record keyed by
// the project path.
func ScanFromResult(runID string, result detector.Result) history.Scan {
	scan := history.Scan{
		RunID:           runID,
		ProjectKey:      result.Project,
		DatabaseMode:    result.Mode,
		Threshold:       result.Threshold,
		FilesScanned:    result.FilesScanned,
		FunctionsHashed: result.FunctionsHashed,
		ParseFailures:   len(result.ParseFailures),
		Components:      make([]history.Component, 0, len(result.Hits)),
	}
	for _, hit := range result.Hits {
		scan.Components = append(scan.Components, history.Component{
			ComponentID:      hit.ComponentID,
			Version:          hit.Version,
			Score:            hit.Score,
			MatchedHashCount: hit.MatchedHashCount,
			TotalFunctions:   hit.TotalFunctions,
		})
	}
	return scan
}

// RecordHistory appends result to the history database at path and returns
// how it differs from the project's previous scan. ok is false for the first
// scan of a project.
func (a *App) RecordHistory(ctx context.Context, path, runID string, result detector.Result) (diff history.Diff, ok bool, err error) {
	store, err := history.Open(path)
	if err != nil {
		return history.Diff{}, false, err
	}
	defer store.Close()

	scan := ScanFromResult(runID, result)
	prev, ok, err := store.Latest(ctx, scan.ProjectKey)
	if err != nil {
		return history.Diff{}, false, err
	}
	if err := store.SaveScan(ctx, scan); err != nil {
		return history.Diff{}, false, err
	}
	if !ok {
		return history.Diff{}, false, nil
	}

	diff = history.Compare(prev, scan)
	slog.Info("scan recorded",
		"project", scan.ProjectKey,
		"previous_run", prev.RunID,
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"changed", len(diff.Changed))
	return diff, true, nil
}
