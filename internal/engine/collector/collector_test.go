package collector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/core/ports"
	"ossmatch/internal/data/records"
	"ossmatch/internal/engine/fingerprint"
	"ossmatch/internal/engine/parser"
	"ossmatch/internal/engine/sourcetree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fooV1 = `int foo_add(int a, int b) { return a + b; }

int foo_mul(int a, int b) {
    return a * b;
}
`
	fooUtil = `static int foo_clamp(int v, int lo, int hi) {
    if (v < lo) return lo;
    if (v > hi) return hi;
    return v;
}
`
	fooV2 = fooV1 + `
int foo_sub(int a, int b) { return a - b; }
`
)

type fakeRepo struct {
	revisions   []ports.Revision
	trees       map[string]map[string]string
	failAcquire bool
}

// fakeFetcher materializes in-memory revision trees instead of talking to git.
type fakeFetcher struct {
	mu       sync.Mutex
	repos    map[string]fakeRepo
	dirs     map[string]string
	acquired map[string]int
}

func newFakeFetcher(repos map[string]fakeRepo) *fakeFetcher {
	return &fakeFetcher{repos: repos, dirs: map[string]string{}, acquired: map[string]int{}}
}

func (f *fakeFetcher) Acquire(_ context.Context, url, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired[url]++
	repo, ok := f.repos[url]
	if !ok || repo.failAcquire {
		return coreerrors.New(coreerrors.CodeTransientIO, "remote hung up")
	}
	f.dirs[dir] = url
	return os.MkdirAll(dir, 0o755)
}

func (f *fakeFetcher) Revisions(_ context.Context, dir string) ([]ports.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repos[f.dirs[dir]].revisions, nil
}

func (f *fakeFetcher) Checkout(_ context.Context, dir string, rev ports.Revision) error {
	f.mu.Lock()
	tree := f.repos[f.dirs[dir]].trees[rev.Name]
	f.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	for rel, content := range tree {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeFetcher) acquireCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired[url]
}

const libfooURL = "https://github.com/acme/libfoo"

func libfooRepo() fakeRepo {
	return fakeRepo{
		revisions: []ports.Revision{
			{Name: "v1.0", ReleasedAt: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)},
			{Name: "v2.0", ReleasedAt: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		trees: map[string]map[string]string{
			"v1.0": {"src/foo.c": fooV1, "src/util.c": fooUtil, "README.md": "# libfoo"},
			"v2.0": {"src/foo.c": fooV2, "src/util.c": fooUtil, "README.md": "# libfoo"},
		},
	}
}

func newTestCollector(t *testing.T, fetcher ports.RepoFetcher) *Collector {
	t.Helper()
	return newTestCollectorWith(t, fetcher, parser.ExtractorOptions{}, 2)
}

func newTestCollectorWith(t *testing.T, fetcher ports.RepoFetcher, extractOpts parser.ExtractorOptions, fileWorkers int) *Collector {
	t.Helper()
	registry, err := parser.BuildLanguageRegistry(nil)
	require.NoError(t, err)
	extractor, err := parser.NewExtractor(registry, extractOpts)
	require.NoError(t, err)
	scanner, err := sourcetree.NewScanner([]string{".git"}, nil, extractor.IsSupportedPath)
	require.NoError(t, err)
	c, err := New(fetcher, extractor, scanner, Options{Workers: 2, FileWorkers: fileWorkers, CacheSize: 64, RunID: "test-run"})
	require.NoError(t, err)
	return c
}

func readAll(t *testing.T, layout records.Layout, component, version string) []records.RawHashRecord {
	t.Helper()
	var out []records.RawHashRecord
	_, err := records.ReadVersion(layout.VersionPath(component, version), component, func(r records.RawHashRecord) error {
		out = append(out, r)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestCollect_WritesPartitionsAndManifest(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	fetcher := newFakeFetcher(map[string]fakeRepo{libfooURL: libfooRepo()})
	c := newTestCollector(t, fetcher)

	summary, err := c.CollectURLs(ctx, []string{libfooURL}, out)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RepositoriesDone)
	assert.Equal(t, 2, summary.VersionsWritten)
	assert.Equal(t, 4, summary.FilesParsed)
	assert.Equal(t, 3+4, summary.FunctionsHashed)
	assert.Equal(t, 1, summary.CacheHits, "unchanged util.c must come from the cache")
	assert.Empty(t, summary.FailedURLs)

	layout := records.Layout{Root: out}
	component := "acme@@libfoo"
	v1 := readAll(t, layout, component, "v1.0")
	require.Len(t, v1, 3)
	assert.Equal(t, "src/foo.c", v1[0].File)
	assert.Equal(t, "foo_add", v1[0].Function)
	assert.Equal(t, fingerprint.Of("{ return a + b; }").Hash, v1[0].Hash)
	assert.Equal(t, "src/util.c", v1[2].File)
	for _, rec := range v1 {
		assert.Equal(t, component, rec.Component)
		assert.Equal(t, "v1.0", rec.Version)
		assert.Equal(t, libfooURL, rec.RepoURL)
	}
	assert.Len(t, readAll(t, layout, component, "v2.0"), 4)

	manifest, err := records.LoadManifest(layout.ManifestPath(component))
	require.NoError(t, err)
	assert.True(t, manifest.Complete)
	assert.Equal(t, "test-run", manifest.RunID)
	require.Len(t, manifest.Versions, 2)
	assert.Equal(t, 3, manifest.Versions[0].Functions)
	require.NotNil(t, manifest.Versions[1].ReleasedAt)
	assert.Equal(t, 2022, manifest.Versions[1].ReleasedAt.Year())
}

func TestCollect_CacheSeparatesGeneratedFiles(t *testing.T) {
	trees := []map[string]string{
		{"src/foo.c": fooV1, "src/foo.pb.c": fooV1},
		{"src/foo_generated.c": fooUtil, "src/zz.c": fooUtil},
	}
	for i, tree := range trees {
		ctx := context.Background()
		out := t.TempDir()
		repo := fakeRepo{
			revisions: []ports.Revision{{Name: "v1.0"}},
			trees:     map[string]map[string]string{"v1.0": tree},
		}
		fetcher := newFakeFetcher(map[string]fakeRepo{libfooURL: repo})
		c := newTestCollectorWith(t, fetcher, parser.ExtractorOptions{SkipGenerated: true}, 1)

		summary, err := c.CollectURLs(ctx, []string{libfooURL}, out)
		require.NoError(t, err)
		assert.Zero(t, summary.CacheHits, "case %d", i)

		for _, rec := range readAll(t, records.Layout{Root: out}, "acme@@libfoo", "v1.0") {
			assert.False(t, parser.IsGeneratedFile(rec.File, nil), "case %d: %s recorded", i, rec.File)
		}
		assert.NotZero(t, summary.FunctionsHashed, "case %d", i)
	}
}

func TestCollect_Resumable(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	layout := records.Layout{Root: out}
	component := "acme@@libfoo"
	fetcher := newFakeFetcher(map[string]fakeRepo{libfooURL: libfooRepo()})
	c := newTestCollector(t, fetcher)

	_, err := c.CollectURLs(ctx, []string{libfooURL}, out)
	require.NoError(t, err)
	before, err := os.ReadFile(layout.VersionPath(component, "v1.0"))
	require.NoError(t, err)

	// A complete component is skipped without touching the fetcher.
	summary, err := c.CollectURLs(ctx, []string{libfooURL}, out)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RepositoriesSkipped)
	assert.Equal(t, 0, summary.VersionsWritten)
	assert.Equal(t, 1, fetcher.acquireCount(libfooURL))

	// Simulate an interrupted run: v2 missing and the manifest incomplete.
	manifest, err := records.LoadManifest(layout.ManifestPath(component))
	require.NoError(t, err)
	manifest.Complete = false
	require.NoError(t, records.SaveManifest(layout.ManifestPath(component), manifest))
	require.NoError(t, os.Remove(layout.VersionPath(component, "v2.0")))

	summary, err = c.CollectURLs(ctx, []string{libfooURL}, out)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.VersionsSkipped)
	assert.Equal(t, 1, summary.VersionsWritten)

	after, err := os.ReadFile(layout.VersionPath(component, "v1.0"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "existing version files must not be rewritten")
	assert.True(t, layout.HasVersion(component, "v2.0"))
}

func TestCollect_FailedRepositoryDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	broken := "https://github.com/acme/broken"
	fetcher := newFakeFetcher(map[string]fakeRepo{
		libfooURL: libfooRepo(),
		broken:    {failAcquire: true},
	})
	c := newTestCollector(t, fetcher)

	summary, err := c.CollectURLs(ctx, []string{broken, libfooURL, "not a url"}, out)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Repositories)
	assert.Equal(t, 1, summary.RepositoriesDone)
	assert.Equal(t, 2, summary.RepositoriesFailed)
	assert.Equal(t, []string{broken, "not a url"}, summary.FailedURLs)

	layout := records.Layout{Root: out}
	components, err := layout.Components()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme@@libfoo"}, components)
}

func TestCollect_TaglessRepositoryUsesUnknownVersion(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	url := "https://github.com/acme/headonly"
	fetcher := newFakeFetcher(map[string]fakeRepo{url: {
		revisions: []ports.Revision{{Name: records.UnknownVersion}},
		trees:     map[string]map[string]string{records.UnknownVersion: {"a.c": fooV1}},
	}})
	c := newTestCollector(t, fetcher)

	summary, err := c.CollectURLs(ctx, []string{url}, out)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.VersionsWritten)
	assert.True(t, records.Layout{Root: out}.HasVersion("acme@@headonly", records.UnknownVersion))
}

func TestCollect_ParseFailuresAreCounted(t *testing.T) {
	ctx := context.Background()
	out := t.TempDir()
	url := "https://github.com/acme/messy"
	fetcher := newFakeFetcher(map[string]fakeRepo{url: {
		revisions: []ports.Revision{{Name: "v1"}},
		trees: map[string]map[string]string{"v1": {
			"good.c":  fooV1,
			"junk.c":  "}}}} ((( ;;; @@@ {{{",
			"empty.c": "",
		}},
	}})
	c := newTestCollector(t, fetcher)

	summary, err := c.CollectURLs(ctx, []string{url}, out)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ParseFailures)
	assert.Equal(t, 2, summary.FilesParsed)
	assert.Equal(t, 2, summary.FunctionsHashed)
}

func TestReadURLList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "# components\nhttps://github.com/a/x\n\n  https://github.com/b/y  \nhttps://github.com/a/x\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	urls, err := ReadURLList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://github.com/a/x", "https://github.com/b/y"}, urls)

	_, err = ReadURLList(filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeNotFound))
}
