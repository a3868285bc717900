package detector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/data/hashdb"
	"ossmatch/internal/engine/fingerprint"
	"ossmatch/internal/engine/parser"
	"ossmatch/internal/engine/sourcetree"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bodyAdd   = "{ return a + b; }"
	bodyMul   = "{ return a * b; }"
	bodySub   = "{ return a - b; }"
	bodyClamp = "{ if (v < lo) return lo; if (v > hi) return hi; return v; }"
	bodyBarA  = "{ return bar_state->count++; }"
	bodyBarB  = "{ memset(buf, 0, len); return len; }"

	projectFoo = `#include "foo.h"

int foo_add(int a, int b) { return a + b; }

int foo_mul(int a, int b) {
    return a * b;
}

int foo_sub(int a, int b) {
    /* vendored from libfoo 2.0 */
    return a - b;
}
`
	projectMain = `int main(void) {
    int x = foo_add(1, 2);
    return x > 3;
}
`
)

func hashOf(body string) fingerprint.Hash {
	return fingerprint.Of(body).Hash
}

type version struct {
	name     string
	released time.Time
	bodies   []string
}

func buildDB(t *testing.T, mode string, components map[string][]version) *hashdb.Database {
	t.Helper()
	b := hashdb.NewBuilder(hashdb.Meta{Mode: mode})
	for _, component := range []string{"acme@@libbar", "acme@@libfoo", "acme@@libtie"} {
		versions, ok := components[component]
		if !ok {
			continue
		}
		for _, v := range versions {
			id := b.AddEntry(hashdb.Entry{
				ComponentID:    component,
				Version:        v.name,
				RepoURL:        "https://github.com/" + component,
				TotalFunctions: len(v.bodies),
				ReleasedAt:     v.released,
			})
			for _, body := range v.bodies {
				b.AddHash(id, hashOf(body))
			}
		}
	}
	return b.Build()
}

func libfooFull(t *testing.T) *hashdb.Database {
	return buildDB(t, hashdb.ModeFull, map[string][]version{
		"acme@@libfoo": {
			{name: "v1.0", released: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), bodies: []string{bodyAdd, bodyMul, bodyClamp}},
			{name: "v2.0", released: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), bodies: []string{bodyAdd, bodyMul, bodyClamp, bodySub}},
		},
		"acme@@libbar": {
			{name: "v0.3", bodies: []string{bodyBarA, bodyBarB}},
		},
	})
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func newTestDetector(t *testing.T, opts Options) *Detector {
	t.Helper()
	registry, err := parser.BuildLanguageRegistry(nil)
	require.NoError(t, err)
	extractor, err := parser.NewExtractor(registry, parser.ExtractorOptions{})
	require.NoError(t, err)
	scanner, err := sourcetree.NewScanner([]string{".git", "build"}, nil, extractor.IsSupportedPath)
	require.NoError(t, err)
	d, err := New(extractor, scanner, opts)
	require.NoError(t, err)
	return d
}

func TestDetect_VendoredLibfoo(t *testing.T) {
	project := writeProject(t, map[string]string{
		"third_party/foo/foo.c": projectFoo,
		"src/main.c":            projectMain,
		"build/foo.c":           projectFoo,
		"README.md":             "not source",
	})
	d := newTestDetector(t, Options{Workers: 4, Threshold: 0.1})

	result, err := d.Detect(context.Background(), project, libfooFull(t))
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesScanned)
	assert.Equal(t, 4, result.FunctionsHashed)
	assert.Empty(t, result.ParseFailures)
	assert.Equal(t, hashdb.ModeFull, result.Mode)

	require.Len(t, result.Hits, 1)
	hit := result.Hits[0]
	assert.Equal(t, "acme@@libfoo", hit.ComponentID)
	assert.Equal(t, "v2.0", hit.Version)
	assert.Equal(t, 3, hit.MatchedHashCount)
	assert.Equal(t, 4, hit.TotalFunctions)
	assert.InDelta(t, 0.75, hit.Score, 1e-9)
	assert.Equal(t, []MatchedFunction{
		{File: "third_party/foo/foo.c", Function: "foo_add"},
		{File: "third_party/foo/foo.c", Function: "foo_mul"},
		{File: "third_party/foo/foo.c", Function: "foo_sub"},
	}, hit.MatchedFunctions)

	require.Len(t, hit.Candidates, 2)
	assert.Equal(t, "v2.0", hit.Candidates[0].Version)
	assert.Equal(t, "v1.0", hit.Candidates[1].Version)
	assert.InDelta(t, 2.0/3.0, hit.Candidates[1].Score, 1e-9)
}

func TestDetect_LiteMode(t *testing.T) {
	db := buildDB(t, hashdb.ModeLite, map[string][]version{
		"acme@@libfoo": {{bodies: []string{bodyAdd, bodyMul, bodyClamp, bodySub}}},
	})
	project := writeProject(t, map[string]string{"foo.c": projectFoo})

	result, err := newTestDetector(t, Options{Threshold: 0.5}).Detect(context.Background(), project, db)
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Empty(t, result.Hits[0].Version)
	assert.Nil(t, result.Hits[0].Candidates)
	assert.InDelta(t, 0.75, result.Hits[0].Score, 1e-9)
}

func TestDetect_ZeroMatch(t *testing.T) {
	project := writeProject(t, map[string]string{"src/main.c": projectMain})
	result, err := newTestDetector(t, Options{Threshold: 0}).Detect(context.Background(), project, libfooFull(t))
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
	assert.Equal(t, 1, result.FilesScanned)
}

func TestDetect_ThresholdMonotonic(t *testing.T) {
	project := writeProject(t, map[string]string{
		"foo.c": projectFoo,
		"bar.c": "int bar_next(void) { return bar_state->count++; }\n",
	})
	db := libfooFull(t)

	prev := -1
	for _, threshold := range []float64{1, 0.9, 0.75, 0.6, 0.5, 0.25, 0.1, 0} {
		result, err := newTestDetector(t, Options{Threshold: threshold}).Detect(context.Background(), project, db)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(result.Hits), prev, "threshold %v", threshold)
		prev = len(result.Hits)
		for _, hit := range result.Hits {
			assert.GreaterOrEqual(t, hit.Score, threshold)
			assert.LessOrEqual(t, hit.Score, 1.0)
		}
	}
	assert.Equal(t, 2, prev)
}

func TestDetect_OrderedByScoreThenComponent(t *testing.T) {
	project := writeProject(t, map[string]string{
		"foo.c": projectFoo,
		"bar.c": "int bar_next(void) { return bar_state->count++; }\n",
	})
	result, err := newTestDetector(t, Options{}).Detect(context.Background(), project, libfooFull(t))
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, "acme@@libfoo", result.Hits[0].ComponentID)
	assert.Equal(t, "acme@@libbar", result.Hits[1].ComponentID)
	assert.InDelta(t, 0.5, result.Hits[1].Score, 1e-9)
}

func TestDetect_VersionTiebreak(t *testing.T) {
	project := writeProject(t, map[string]string{"foo.c": projectFoo})
	dated := buildDB(t, hashdb.ModeFull, map[string][]version{
		"acme@@libtie": {
			{name: "v1.10", released: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), bodies: []string{bodyAdd, bodyClamp}},
			{name: "v1.9", released: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), bodies: []string{bodyAdd, bodyBarA}},
		},
	})
	undated := buildDB(t, hashdb.ModeFull, map[string][]version{
		"acme@@libtie": {
			{name: "v1.10", bodies: []string{bodyAdd, bodyClamp}},
			{name: "v1.9", bodies: []string{bodyAdd, bodyBarA}},
		},
	})

	cases := []struct {
		name     string
		db       *hashdb.Database
		tiebreak string
		want     string
	}{
		{"newest by date", dated, TiebreakNewest, "v1.9"},
		{"oldest by date", dated, TiebreakOldest, "v1.10"},
		{"newest by label", undated, TiebreakNewest, "v1.10"},
		{"oldest by label", undated, TiebreakOldest, "v1.9"},
		{"default is newest", undated, "", "v1.10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := newTestDetector(t, Options{Tiebreak: tc.tiebreak}).Detect(context.Background(), project, tc.db)
			require.NoError(t, err)
			require.Len(t, result.Hits, 1)
			assert.Equal(t, tc.want, result.Hits[0].Version)
			assert.InDelta(t, 0.5, result.Hits[0].Score, 1e-9)
		})
	}
}

func TestDetect_ParseFailuresReported(t *testing.T) {
	project := writeProject(t, map[string]string{
		"foo.c":  projectFoo,
		"junk.c": "}}}} ((( ;;; @@@ {{{",
	})
	result, err := newTestDetector(t, Options{}).Detect(context.Background(), project, libfooFull(t))
	require.NoError(t, err)
	require.Len(t, result.ParseFailures, 1)
	assert.Equal(t, "junk.c", result.ParseFailures[0].Path)
	assert.Equal(t, 1, result.FilesScanned)
	require.Len(t, result.Hits, 1)
}

func TestDetect_SharedDatabaseConcurrentCalls(t *testing.T) {
	project := writeProject(t, map[string]string{"foo.c": projectFoo})
	db := libfooFull(t)
	d := newTestDetector(t, Options{Workers: 2})

	var wg sync.WaitGroup
	scores := make([]float64, 8)
	for i := range scores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := d.Detect(context.Background(), project, db)
			if err == nil && len(result.Hits) == 1 {
				scores[i] = result.Hits[0].Score
			}
		}()
	}
	wg.Wait()
	for _, s := range scores {
		assert.InDelta(t, 0.75, s, 1e-9)
	}
}

func TestDetect_MissingProject(t *testing.T) {
	_, err := newTestDetector(t, Options{}).Detect(context.Background(), filepath.Join(t.TempDir(), "nope"), libfooFull(t))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeNotFound))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, Options{Threshold: 1.5})
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeValidationError))
	_, err = New(nil, nil, Options{Threshold: -0.1})
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeValidationError))
	_, err = New(nil, nil, Options{Tiebreak: "random"})
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeValidationError))
}

func TestScore(t *testing.T) {
	assert.Equal(t, 0.0, Score(3, 0))
	assert.Equal(t, 1.0, Score(5, 4))
	assert.InDelta(t, 0.25, Score(1, 4), 1e-9)
	assert.Equal(t, 0.0, Score(0, 4))
}
