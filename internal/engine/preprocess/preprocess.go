// Package preprocess folds the collector's raw records into a Component Hash
// Database.
package preprocess

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/data/hashdb"
	"ossmatch/internal/data/records"
	"ossmatch/internal/engine/fingerprint"
	"ossmatch/internal/shared/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Options struct {
	RunID string
	Now   func() time.Time
}

type Summary struct {
	Mode           string
	DatabasePath   string
	Components     int
	Versions       int
	Entries        int
	Records        int
	SkippedRecords int
	UniqueHashes   int
	Pairs          int
	SharedHashes   int
	Duration       time.Duration
}

type Preprocessor struct {
	opts Options
}

func New(opts Options) *Preprocessor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Preprocessor{opts: opts}
}

// Preprocess builds the database for mode from collectorDir and writes it to
// outputDir/components-<mode>.db, replacing any previous file atomically.
func (p *Preprocessor) Preprocess(ctx context.Context, collectorDir, outputDir, mode string) (Summary, error) {
	start := time.Now()
	db, summary, err := p.Build(ctx, collectorDir, mode)
	if err != nil {
		return summary, err
	}

	summary.DatabasePath = filepath.Join(outputDir, hashdb.FileName(mode))
	if err := hashdb.Save(ctx, db, summary.DatabasePath); err != nil {
		return summary, err
	}
	summary.Duration = time.Since(start)
	slog.Info("component database written",
		"path", summary.DatabasePath,
		"mode", mode,
		"entries", summary.Entries,
		"hashes", summary.UniqueHashes,
		"skipped_records", summary.SkippedRecords)
	return summary, nil
}

// Build reads every component partition under collectorDir into an in-memory
// database without persisting it.
func (p *Preprocessor) Build(ctx context.Context, collectorDir, mode string) (*hashdb.Database, Summary, error) {
	summary := Summary{Mode: mode}
	if mode != hashdb.ModeFull && mode != hashdb.ModeLite {
		return nil, summary, coreerrors.New(coreerrors.CodeValidationError, fmt.Sprintf("unknown database mode %q", mode))
	}

	ctx, span := observability.Tracer.Start(ctx, "preprocess.build", trace.WithAttributes(attribute.String("mode", mode)))
	defer span.End()

	layout := records.Layout{Root: collectorDir}
	if err := checkCollectorDir(collectorDir); err != nil {
		return nil, summary, err
	}
	components, err := layout.Components()
	if err != nil {
		return nil, summary, err
	}
	if len(components) == 0 {
		slog.Warn("no component partitions found", "path", layout.RecordsDir())
	}

	b := hashdb.NewBuilder(hashdb.Meta{Mode: mode, RunID: p.opts.RunID, BuiltAt: p.opts.Now().UTC()})
	for _, component := range components {
		if err := ctx.Err(); err != nil {
			return nil, summary, err
		}
		if err := p.addComponent(b, layout, component, mode, &summary); err != nil {
			return nil, summary, err
		}
	}

	db := b.Build()
	summary.Entries = db.EntryCount()
	summary.UniqueHashes = db.HashCount()
	summary.Pairs = db.PairCount()
	summary.SharedHashes = db.SharedHashCount()

	observability.CorruptRecordsTotal.Add(float64(summary.SkippedRecords))
	observability.DatabaseEntries.Set(float64(summary.Entries))
	observability.DatabaseHashes.Set(float64(summary.UniqueHashes))
	return db, summary, nil
}

// checkCollectorDir rejects an input root that does not exist or is not a
// directory, so a mistyped path never replaces a good database.
func checkCollectorDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return coreerrors.New(coreerrors.CodeValidationError, "collector directory must not be empty")
	}
	info, err := os.Stat(dir)
	if err != nil {
		code := coreerrors.CodeTransientIO
		if os.IsNotExist(err) {
			code = coreerrors.CodeNotFound
		}
		return coreerrors.AddContext(
			coreerrors.Wrap(err, code, "collector directory unavailable"),
			coreerrors.CtxPath, dir,
		)
	}
	if !info.IsDir() {
		return coreerrors.AddContext(
			coreerrors.New(coreerrors.CodeValidationError, "collector path is not a directory"),
			coreerrors.CtxPath, dir,
		)
	}
	return nil
}

func (p *Preprocessor) addComponent(b *hashdb.Builder, layout records.Layout, component, mode string, summary *Summary) error {
	log := slog.With("component", component)
	versions, err := layout.Versions(component)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		log.Debug("component has no version records")
		return nil
	}
	summary.Components++

	var (
		repoURL string
		dates   map[string]time.Time
	)
	if manifest, err := records.LoadManifest(layout.ManifestPath(component)); err == nil {
		repoURL = manifest.RepoURL
		dates = manifest.ReleaseDates()
	} else if !coreerrors.IsCode(err, coreerrors.CodeNotFound) {
		log.Warn("ignoring unreadable manifest", "error", err)
	}

	var (
		liteID     hashdb.EntryID
		liteMax    int
		liteLatest time.Time
	)
	if mode == hashdb.ModeLite {
		liteID = b.AddEntry(hashdb.Entry{ComponentID: component, RepoURL: repoURL})
	}

	var hashes []fingerprint.Hash
	for _, version := range versions {
		// A version's hashes are committed only once its whole file was read,
		// so a failed read never leaves a partial entry behind.
		hashes = hashes[:0]
		stats, err := records.ReadVersion(layout.VersionPath(component, version), component, func(rec records.RawHashRecord) error {
			if rec.Version != version {
				summary.SkippedRecords++
				log.Warn("skipping corrupt record", "version", version, "error", "record version "+rec.Version+" does not match its file")
				return nil
			}
			if repoURL == "" && rec.RepoURL != "" {
				repoURL = rec.RepoURL
			}
			hashes = append(hashes, rec.Hash)
			return nil
		})
		summary.SkippedRecords += stats.Corrupt
		if err != nil {
			if coreerrors.IsSoft(err) {
				log.Warn("skipping unreadable version file", "version", version, "error", err)
				continue
			}
			return err
		}
		raw := len(hashes)
		summary.Versions++
		summary.Records += raw

		entryID := liteID
		if mode == hashdb.ModeFull {
			entryID = b.AddEntry(hashdb.Entry{
				ComponentID:    component,
				Version:        version,
				RepoURL:        repoURL,
				ReleasedAt:     dates[version],
				TotalFunctions: raw,
			})
		}
		for _, h := range hashes {
			b.AddHash(entryID, h)
		}
		if mode == hashdb.ModeFull {
			continue
		}
		if raw > liteMax {
			liteMax = raw
		}
		if d := dates[version]; d.After(liteLatest) {
			liteLatest = d
		}
	}

	if mode == hashdb.ModeLite {
		b.SetTotalFunctions(liteID, liteMax)
		b.SetRepoURL(liteID, repoURL)
		b.SetReleasedAt(liteID, liteLatest)
	}
	return nil
}
