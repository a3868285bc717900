// Package collector acquires component repositories, walks every release and
// persists one raw hash record per extracted function.
package collector

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/core/ports"
	"ossmatch/internal/data/records"
	"ossmatch/internal/engine/fingerprint"
	"ossmatch/internal/engine/parser"
	"ossmatch/internal/engine/sourcetree"
	"ossmatch/internal/shared/observability"
	"ossmatch/internal/shared/util"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const stageLabel = "collect"

type Options struct {
	Workers       int
	FileWorkers   int
	CacheSize     int
	MinBodyTokens int
	RunID         string
}

// Summary reports what a collection run did. FailedURLs lists repositories
// that could not be acquired or enumerated, so a rerun can target them.
type Summary struct {
	RunID               string
	Repositories        int
	RepositoriesDone    int
	RepositoriesSkipped int
	RepositoriesFailed  int
	VersionsWritten     int
	VersionsSkipped     int
	VersionsFailed      int
	FilesParsed         int
	ParseFailures       int
	FunctionsHashed     int
	CacheHits           int
	FailedURLs          []string
	Duration            time.Duration
}

type Collector struct {
	fetcher   ports.RepoFetcher
	extractor ports.FunctionExtractor
	scanner   *sourcetree.Scanner
	opts      Options
	cache     *lru.Cache[string, []cachedFunction]
}

// cachedFunction is the content-derived part of a record; everything else
// depends on where the file sits and is filled in per version.
type cachedFunction struct {
	Name      string
	StartLine int
	EndLine   int
	Hash      fingerprint.Hash
}

func New(fetcher ports.RepoFetcher, extractor ports.FunctionExtractor, scanner *sourcetree.Scanner, opts Options) (*Collector, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FileWorkers <= 0 {
		opts.FileWorkers = 1
	}
	c := &Collector{fetcher: fetcher, extractor: extractor, scanner: scanner, opts: opts}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []cachedFunction](opts.CacheSize)
		if err != nil {
			return nil, coreerrors.Wrap(err, coreerrors.CodeConfig, "create extraction cache")
		}
		c.cache = cache
	}
	return c, nil
}

// ReadURLList reads one repository URL per line. Blank lines and lines
// starting with # are ignored and duplicates are collapsed, keeping the first
// occurrence.
func ReadURLList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.AddContext(
				coreerrors.Wrap(err, coreerrors.CodeNotFound, "url list not found"),
				coreerrors.CtxPath, path,
			)
		}
		return nil, coreerrors.Wrap(err, coreerrors.CodeTransientIO, "open url list")
	}
	defer f.Close()

	var urls []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeTransientIO, "read url list")
	}
	return urls, nil
}

// Collect processes every repository listed in urlListFile into outputDir.
func (c *Collector) Collect(ctx context.Context, urlListFile, outputDir string) (Summary, error) {
	urls, err := ReadURLList(urlListFile)
	if err != nil {
		return Summary{RunID: c.opts.RunID}, err
	}
	return c.CollectURLs(ctx, urls, outputDir)
}

// CollectURLs processes repositories concurrently. Per-repository failures are
// logged and counted; only cancellation aborts the run.
func (c *Collector) CollectURLs(ctx context.Context, urls []string, outputDir string) (Summary, error) {
	start := time.Now()
	layout := records.Layout{Root: outputDir}
	summary := Summary{RunID: c.opts.RunID, Repositories: len(urls)}
	if err := os.MkdirAll(layout.RecordsDir(), 0o755); err != nil {
		return summary, coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "create records directory"),
			coreerrors.CtxPath, layout.RecordsDir(),
		)
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, repoURL := range urls {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			result := c.collectRepository(gctx, layout, repoURL)

			mu.Lock()
			defer mu.Unlock()
			summary.merge(result)
			if result.failed {
				summary.FailedURLs = append(summary.FailedURLs, repoURL)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	sort.Strings(summary.FailedURLs)
	summary.Duration = time.Since(start)
	return summary, err
}

type repoResult struct {
	done, skipped, failed bool
	versionsWritten       int
	versionsSkipped       int
	versionsFailed        int
	files                 int
	parseFailures         int
	functions             int
	cacheHits             int
}

func (s *Summary) merge(r repoResult) {
	switch {
	case r.failed:
		s.RepositoriesFailed++
	case r.skipped:
		s.RepositoriesSkipped++
	case r.done:
		s.RepositoriesDone++
	}
	s.VersionsWritten += r.versionsWritten
	s.VersionsSkipped += r.versionsSkipped
	s.VersionsFailed += r.versionsFailed
	s.FilesParsed += r.files
	s.ParseFailures += r.parseFailures
	s.FunctionsHashed += r.functions
	s.CacheHits += r.cacheHits
}

func (c *Collector) collectRepository(ctx context.Context, layout records.Layout, repoURL string) (result repoResult) {
	ctx, span := observability.Tracer.Start(ctx, "collector.repository",
		trace.WithAttributes(attribute.String("repo_url", repoURL)))
	defer func() {
		if result.failed {
			span.SetStatus(codes.Error, "repository failed")
		}
		span.End()
	}()

	component, err := records.ComponentIDFromURL(repoURL)
	if err != nil {
		slog.Warn("skipping repository with unusable url", "repo_url", repoURL, "error", err)
		observability.RepositoriesTotal.WithLabelValues("failed").Inc()
		result.failed = true
		return result
	}
	log := slog.With("repo_url", repoURL, "component", component)
	manifestPath := layout.ManifestPath(component)

	manifest, err := records.LoadManifest(manifestPath)
	switch {
	case err == nil && manifest.Complete && manifest.RepoURL == repoURL:
		log.Info("component already collected")
		observability.RepositoriesTotal.WithLabelValues("skipped").Inc()
		result.skipped = true
		return result
	case err == nil && manifest.RepoURL != repoURL:
		log.Warn("component id collides with another repository; reusing partition", "previous_url", manifest.RepoURL)
		manifest = &records.Manifest{Component: component, RepoURL: repoURL}
	case err != nil:
		if !coreerrors.IsCode(err, coreerrors.CodeNotFound) {
			log.Warn("ignoring unreadable manifest", "error", err)
		}
		manifest = &records.Manifest{Component: component, RepoURL: repoURL}
	}
	manifest.RunID = c.opts.RunID

	repoDir := layout.RepoDir(component)
	if err := c.fetcher.Acquire(ctx, repoURL, repoDir); err != nil {
		log.Warn("failed to acquire repository", "error", err)
		observability.RepositoriesTotal.WithLabelValues("failed").Inc()
		result.failed = true
		return result
	}
	revisions, err := c.fetcher.Revisions(ctx, repoDir)
	if err != nil || len(revisions) == 0 {
		log.Warn("failed to list revisions", "error", err)
		observability.RepositoriesTotal.WithLabelValues("failed").Inc()
		result.failed = true
		return result
	}

	complete := true
	for _, rev := range revisions {
		if ctx.Err() != nil {
			complete = false
			break
		}
		vlog := log.With("version", rev.Name)

		if layout.HasVersion(component, rev.Name) {
			result.versionsSkipped++
			if _, ok := manifest.Version(rev.Name); !ok {
				manifest.Upsert(versionInfo(rev, versionStats{}))
			}
			continue
		}

		stats, err := c.collectVersion(ctx, layout, component, repoURL, repoDir, rev)
		if err != nil {
			complete = false
			result.versionsFailed++
			vlog.Warn("failed to collect version", "error", err)
			continue
		}
		result.versionsWritten++
		result.files += stats.files
		result.parseFailures += stats.parseFailures
		result.functions += stats.functions
		result.cacheHits += stats.cacheHits
		observability.VersionsWrittenTotal.Inc()
		vlog.Debug("version collected", "files", stats.files, "functions", stats.functions)

		manifest.Upsert(versionInfo(rev, stats))
		manifest.UpdatedAt = time.Now().UTC()
		if err := records.SaveManifest(manifestPath, manifest); err != nil {
			vlog.Warn("failed to save manifest", "error", err)
		}
	}

	manifest.Complete = complete
	manifest.UpdatedAt = time.Now().UTC()
	if err := records.SaveManifest(manifestPath, manifest); err != nil {
		log.Warn("failed to save manifest", "error", err)
	}
	result.done = true
	observability.RepositoriesTotal.WithLabelValues("done").Inc()
	log.Info("repository collected",
		"versions_written", result.versionsWritten,
		"versions_skipped", result.versionsSkipped,
		"functions", result.functions)
	return result
}

type versionStats struct {
	files         int
	parseFailures int
	functions     int
	lines         int
	cacheHits     int
}

func versionInfo(rev ports.Revision, stats versionStats) records.VersionInfo {
	info := records.VersionInfo{
		Name:          rev.Name,
		Files:         stats.files,
		ParseFailures: stats.parseFailures,
		Functions:     stats.functions,
		Lines:         stats.lines,
	}
	if !rev.ReleasedAt.IsZero() {
		released := rev.ReleasedAt
		info.ReleasedAt = &released
	}
	return info
}

type fileOutcome struct {
	functions []cachedFunction
	lines     int
	failed    bool
	cacheHit  bool
}

func (c *Collector) collectVersion(ctx context.Context, layout records.Layout, component, repoURL, repoDir string, rev ports.Revision) (versionStats, error) {
	var stats versionStats
	if err := c.fetcher.Checkout(ctx, repoDir, rev); err != nil {
		return stats, err
	}
	files, err := c.scanner.Scan(ctx, repoDir)
	if err != nil {
		return stats, coreerrors.Wrap(err, coreerrors.CodeTransientIO, "scan working tree")
	}

	outcomes := make([]fileOutcome, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.FileWorkers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = c.processFile(path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	var recs []records.RawHashRecord
	for i, path := range files {
		out := outcomes[i]
		if out.failed {
			stats.parseFailures++
			continue
		}
		stats.files++
		stats.lines += out.lines
		if out.cacheHit {
			stats.cacheHits++
		}
		rel := util.RelativeSlashPath(repoDir, path)
		for _, fn := range out.functions {
			recs = append(recs, records.RawHashRecord{
				Component: component,
				Version:   rev.Name,
				RepoURL:   repoURL,
				File:      rel,
				Function:  fn.Name,
				StartLine: fn.StartLine,
				EndLine:   fn.EndLine,
				Hash:      fn.Hash,
			})
		}
	}
	stats.functions = len(recs)

	if err := records.WriteVersion(layout.VersionPath(component, rev.Name), recs); err != nil {
		return stats, err
	}
	observability.FilesParsedTotal.WithLabelValues(stageLabel).Add(float64(stats.files))
	observability.ParseFailuresTotal.WithLabelValues(stageLabel).Add(float64(stats.parseFailures))
	observability.FunctionsHashedTotal.WithLabelValues(stageLabel).Add(float64(stats.functions))
	return stats, nil
}

func (c *Collector) processFile(path string) fileOutcome {
	content, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("failed to read source file", "path", path, "error", err)
		return fileOutcome{failed: true}
	}
	lines := bytes.Count(content, []byte{'\n'}) + 1
	lang := c.extractor.Language(path)

	key := ""
	if c.cache != nil {
		// Generated-file skipping depends on the name, so identical content
		// under a generated and a regular name must not share an entry.
		class := "src"
		if parser.IsGeneratedFile(path, content) {
			class = "gen"
		}
		digest := sha256.Sum256(content)
		key = lang + ":" + class + ":" + hex.EncodeToString(digest[:])
		if cached, ok := c.cache.Get(key); ok {
			observability.ExtractCacheHitsTotal.Inc()
			return fileOutcome{functions: cached, lines: lines, cacheHit: true}
		}
	}

	start := time.Now()
	functions, err := c.extractor.Extract(path, content)
	observability.ParsingDuration.WithLabelValues(lang).Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("failed to extract functions", "path", path, "error", err)
		return fileOutcome{failed: true}
	}

	out := make([]cachedFunction, 0, len(functions))
	for _, fn := range functions {
		fp := fingerprint.Of(fn.Body)
		if !fp.Usable(c.opts.MinBodyTokens) {
			continue
		}
		out = append(out, cachedFunction{
			Name:      fn.Name,
			StartLine: fn.StartLine,
			EndLine:   fn.EndLine,
			Hash:      fp.Hash,
		})
	}
	if c.cache != nil {
		c.cache.Add(key, out)
	}
	return fileOutcome{functions: out, lines: lines}
}
