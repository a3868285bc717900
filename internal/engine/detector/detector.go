// Package detector matches the functions of a target project against a
// component hash database and ranks the components it finds.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/core/ports"
	"ossmatch/internal/data/hashdb"
	"ossmatch/internal/engine/fingerprint"
	"ossmatch/internal/engine/sourcetree"
	"ossmatch/internal/shared/observability"
	"ossmatch/internal/shared/util"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	stageLabel = "detect"

	TiebreakNewest = "newest"
	TiebreakOldest = "oldest"
)

type Options struct {
	Workers       int
	Threshold     float64
	Tiebreak      string
	MinBodyTokens int
}

type MatchedFunction struct {
	File     string `json:"file"`
	Function string `json:"function"`
}

// VersionScore is the score of a single database entry.
type VersionScore struct {
	Version          string    `json:"version"`
	ReleasedAt       time.Time `json:"released_at,omitempty"`
	MatchedHashCount int       `json:"matched_hash_count"`
	TotalFunctions   int       `json:"total_functions"`
	Score            float64   `json:"score"`
}

// Hit is one reported component. In full mode Version is the best scoring
// version and Candidates lists every version that matched.
type Hit struct {
	ComponentID      string            `json:"component_id"`
	Version          string            `json:"version,omitempty"`
	RepoURL          string            `json:"repo_url"`
	Score            float64           `json:"score"`
	MatchedHashCount int               `json:"matched_hash_count"`
	TotalFunctions   int               `json:"total_functions"`
	MatchedFunctions []MatchedFunction `json:"matched_functions"`
	Candidates       []VersionScore    `json:"candidates,omitempty"`
}

type FileFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

type Result struct {
	Project         string
	Mode            string
	Threshold       float64
	Hits            []Hit
	FilesScanned    int
	FunctionsHashed int
	ParseFailures   []FileFailure
	Duration        time.Duration
}

type Detector struct {
	extractor ports.FunctionExtractor
	scanner   *sourcetree.Scanner
	opts      Options
}

func New(extractor ports.FunctionExtractor, scanner *sourcetree.Scanner, opts Options) (*Detector, error) {
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, coreerrors.New(coreerrors.CodeValidationError,
			fmt.Sprintf("threshold %v outside [0,1]", opts.Threshold))
	}
	switch opts.Tiebreak {
	case "":
		opts.Tiebreak = TiebreakNewest
	case TiebreakNewest, TiebreakOldest:
	default:
		return nil, coreerrors.New(coreerrors.CodeValidationError,
			fmt.Sprintf("unknown version tiebreak %q", opts.Tiebreak))
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Detector{extractor: extractor, scanner: scanner, opts: opts}, nil
}

type targetFunction struct {
	name    string
	hash    fingerprint.Hash
	entries []hashdb.EntryID
}

type fileOutcome struct {
	functions []targetFunction
	err       error
}

// tally accumulates the matches of one database entry.
type tally struct {
	hashes    map[fingerprint.Hash]struct{}
	functions []MatchedFunction
}

// Detect scans projectDir and scores every database entry that shares at
// least one function hash with it. db is only read and may be shared by
// concurrent calls.
func (d *Detector) Detect(ctx context.Context, projectDir string, db ports.HashIndex) (Result, error) {
	start := time.Now()
	result := Result{Project: projectDir, Mode: db.Mode(), Threshold: d.opts.Threshold}

	ctx, span := observability.Tracer.Start(ctx, "detect",
		trace.WithAttributes(attribute.String("project", projectDir), attribute.String("mode", db.Mode())))
	defer span.End()

	info, err := os.Stat(projectDir)
	if err != nil || !info.IsDir() {
		return result, coreerrors.AddContext(
			coreerrors.New(coreerrors.CodeNotFound, "project directory not found"),
			coreerrors.CtxPath, projectDir,
		)
	}

	files, err := d.scanner.Scan(ctx, projectDir)
	if err != nil {
		return result, coreerrors.Wrap(err, coreerrors.CodeTransientIO, "scan project")
	}

	outcomes := make([]fileOutcome, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = d.processFile(path, db)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	tallies := make(map[hashdb.EntryID]*tally)
	for i, path := range files {
		out := outcomes[i]
		rel := util.RelativeSlashPath(projectDir, path)
		if out.err != nil {
			result.ParseFailures = append(result.ParseFailures, FileFailure{Path: rel, Error: out.err.Error()})
			continue
		}
		result.FilesScanned++
		result.FunctionsHashed += len(out.functions)
		for _, fn := range out.functions {
			for _, id := range fn.entries {
				t := tallies[id]
				if t == nil {
					t = &tally{hashes: make(map[fingerprint.Hash]struct{})}
					tallies[id] = t
				}
				t.hashes[fn.hash] = struct{}{}
				t.functions = append(t.functions, MatchedFunction{File: rel, Function: fn.name})
			}
		}
	}

	result.Hits = d.rank(db, tallies)
	result.Duration = time.Since(start)

	observability.FilesParsedTotal.WithLabelValues(stageLabel).Add(float64(result.FilesScanned))
	observability.ParseFailuresTotal.WithLabelValues(stageLabel).Add(float64(len(result.ParseFailures)))
	observability.FunctionsHashedTotal.WithLabelValues(stageLabel).Add(float64(result.FunctionsHashed))
	observability.ComponentsReported.Set(float64(len(result.Hits)))
	span.SetAttributes(attribute.Int("components", len(result.Hits)))

	slog.Info("detection finished",
		"project", projectDir,
		"files", result.FilesScanned,
		"parse_failures", len(result.ParseFailures),
		"functions", result.FunctionsHashed,
		"components", len(result.Hits))
	return result, nil
}

func (d *Detector) processFile(path string, db ports.HashIndex) fileOutcome {
	lang := d.extractor.Language(path)
	start := time.Now()
	functions, err := d.extractor.ExtractFile(path)
	observability.ParsingDuration.WithLabelValues(lang).Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("failed to extract functions", "path", path, "error", err)
		return fileOutcome{err: err}
	}

	out := make([]targetFunction, 0, len(functions))
	for _, fn := range functions {
		fp := fingerprint.Of(fn.Body)
		if !fp.Usable(d.opts.MinBodyTokens) {
			continue
		}
		entries := db.Lookup(fp.Hash)
		if len(entries) > 0 {
			observability.DetectHitsTotal.Inc()
		}
		out = append(out, targetFunction{name: fn.Name, hash: fp.Hash, entries: entries})
	}
	return fileOutcome{functions: out}
}

// Score is min(1, matched/total), or 0 when the entry has no functions.
func Score(matched, total int) float64 {
	if total <= 0 {
		return 0
	}
	s := float64(matched) / float64(total)
	if s > 1 {
		return 1
	}
	return s
}

type scoredEntry struct {
	entry hashdb.Entry
	tally *tally
	score VersionScore
}

func (d *Detector) rank(db ports.HashIndex, tallies map[hashdb.EntryID]*tally) []Hit {
	byComponent := make(map[string][]scoredEntry)
	for id, t := range tallies {
		e := db.Entry(id)
		matched := len(t.hashes)
		byComponent[e.ComponentID] = append(byComponent[e.ComponentID], scoredEntry{
			entry: e,
			tally: t,
			score: VersionScore{
				Version:          e.Version,
				ReleasedAt:       e.ReleasedAt,
				MatchedHashCount: matched,
				TotalFunctions:   e.TotalFunctions,
				Score:            Score(matched, e.TotalFunctions),
			},
		})
	}

	hits := make([]Hit, 0, len(byComponent))
	for _, component := range util.SortedStringKeys(byComponent) {
		scored := byComponent[component]
		sort.Slice(scored, func(i, j int) bool {
			return d.better(scored[i].score, scored[j].score)
		})
		best := scored[0]
		if best.score.Score < d.opts.Threshold {
			continue
		}
		hit := Hit{
			ComponentID:      component,
			Version:          best.entry.Version,
			RepoURL:          best.entry.RepoURL,
			Score:            best.score.Score,
			MatchedHashCount: best.score.MatchedHashCount,
			TotalFunctions:   best.score.TotalFunctions,
			MatchedFunctions: best.tally.functions,
		}
		if db.Mode() == hashdb.ModeFull {
			hit.Candidates = make([]VersionScore, 0, len(scored))
			for _, s := range scored {
				hit.Candidates = append(hit.Candidates, s.score)
			}
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ComponentID < hits[j].ComponentID
	})
	return hits
}

// better orders versions of one component: higher score first, then the
// configured tiebreak.
func (d *Detector) better(a, b VersionScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if d.opts.Tiebreak == TiebreakOldest {
		return isNewer(b, a)
	}
	return isNewer(a, b)
}

// isNewer compares by release date when both dates are known and differ,
// falling back to natural version order.
func isNewer(a, b VersionScore) bool {
	if !a.ReleasedAt.IsZero() && !b.ReleasedAt.IsZero() && !a.ReleasedAt.Equal(b.ReleasedAt) {
		return a.ReleasedAt.After(b.ReleasedAt)
	}
	return util.CompareVersions(a.Version, b.Version) > 0
}
