package hashdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/engine/fingerprint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) *Database {
	t.Helper()
	b := NewBuilder(Meta{Mode: ModeFull, RunID: "run-1", BuiltAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)})

	released := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	foo1 := b.AddEntry(Entry{ComponentID: "acme@@libfoo", Version: "v1", RepoURL: "https://github.com/acme/libfoo", TotalFunctions: 3, ReleasedAt: released})
	foo2 := b.AddEntry(Entry{ComponentID: "acme@@libfoo", Version: "v2", RepoURL: "https://github.com/acme/libfoo", TotalFunctions: 4})
	bar := b.AddEntry(Entry{ComponentID: "acme@@libbar", Version: "v1", TotalFunctions: 1})

	shared := fingerprint.Sum("{shared();}")
	only := fingerprint.Sum("{only();}")
	b.AddHash(foo1, shared)
	b.AddHash(foo2, shared)
	b.AddHash(foo2, only)
	b.AddHash(bar, shared)
	require.False(t, b.AddHash(foo1, shared), "duplicate pair must be ignored")
	return b.Build()
}

func TestBuilder(t *testing.T) {
	db := buildSample(t)

	assert.Equal(t, ModeFull, db.Mode())
	assert.Equal(t, 3, db.EntryCount())
	assert.Equal(t, 2, db.HashCount())
	assert.Equal(t, 4, db.PairCount())
	assert.Equal(t, 1, db.SharedHashCount())

	ids := db.Lookup(fingerprint.Sum("{shared();}"))
	assert.Equal(t, []EntryID{0, 1, 2}, ids)
	assert.Empty(t, db.Lookup(fingerprint.Sum("{absent();}")))
	assert.Equal(t, "v2", db.Entry(1).Version)
}

func TestBuilder_AddHashKeepsPostingsSorted(t *testing.T) {
	b := NewBuilder(Meta{Mode: ModeFull})
	for i := 0; i < 5; i++ {
		b.AddEntry(Entry{ComponentID: "acme@@libfoo", Version: fmt.Sprintf("v%d", i)})
	}
	h := fingerprint.Sum("{x();}")
	for _, id := range []EntryID{3, 0, 4, 1, 3, 0} {
		b.AddHash(id, h)
	}
	assert.False(t, b.AddHash(4, h))
	assert.True(t, b.AddHash(2, h))
	assert.Equal(t, []EntryID{0, 1, 2, 3, 4}, b.Build().Lookup(h))
}

func TestBuilder_ManyVersionsPerHash(t *testing.T) {
	const versions = 3000
	b := NewBuilder(Meta{Mode: ModeFull})
	hashes := []fingerprint.Hash{fingerprint.Sum("{a();}"), fingerprint.Sum("{b();}")}
	for v := 0; v < versions; v++ {
		id := b.AddEntry(Entry{ComponentID: "acme@@libfoo", Version: fmt.Sprintf("v%d", v)})
		for _, h := range hashes {
			require.True(t, b.AddHash(id, h))
			require.False(t, b.AddHash(id, h))
		}
	}
	db := b.Build()
	assert.Equal(t, versions*len(hashes), db.PairCount())
	ids := db.Lookup(hashes[0])
	require.Len(t, ids, versions)
	assert.Equal(t, EntryID(versions-1), ids[versions-1])
}

func TestBuilder_PanicsOnReuse(t *testing.T) {
	b := NewBuilder(Meta{Mode: ModeLite})
	b.Build()
	assert.Panics(t, func() { b.Build() })
}

func TestSaveAndOpen(t *testing.T) {
	ctx := context.Background()
	want := buildSample(t)
	path := filepath.Join(t.TempDir(), "out", FileName(ModeFull))

	require.NoError(t, Save(ctx, want, path))

	got, err := Open(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, want.Meta(), got.Meta())
	assert.Equal(t, want.Entries(), got.Entries())
	assert.Equal(t, want.HashCount(), got.HashCount())
	assert.Equal(t, want.PairCount(), got.PairCount())
	for _, h := range []fingerprint.Hash{fingerprint.Sum("{shared();}"), fingerprint.Sum("{only();}")} {
		assert.Equal(t, want.Lookup(h), got.Lookup(h))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestSave_ReplacesExistingAtomically(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), FileName(ModeLite))

	first := NewBuilder(Meta{Mode: ModeLite})
	first.AddEntry(Entry{ComponentID: "a@@a", TotalFunctions: 1})
	require.NoError(t, Save(ctx, first.Build(), path))

	second := NewBuilder(Meta{Mode: ModeLite})
	second.AddEntry(Entry{ComponentID: "b@@b", TotalFunctions: 1})
	second.AddEntry(Entry{ComponentID: "c@@c", TotalFunctions: 1})
	require.NoError(t, Save(ctx, second.Build(), path))

	got, err := Open(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.EntryCount())
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := Open(ctx, filepath.Join(dir, "missing.db"))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeNotFound))

	_, err = Open(ctx, dir)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeValidationError))

	garbage := filepath.Join(dir, "garbage.db")
	require.NoError(t, os.WriteFile(garbage, []byte("not a database"), 0o644))
	_, err = Open(ctx, garbage)
	assert.Error(t, err)
}

func TestOpen_SchemaVersionMismatchIsCorrupt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), FileName(ModeFull))
	require.NoError(t, Save(ctx, buildSample(t), path))

	sqlDB, err := sql.Open(sqliteDriverName, path)
	require.NoError(t, err)
	_, err = sqlDB.ExecContext(ctx, `UPDATE meta SET value = '99' WHERE key = 'schema_version'`)
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = Open(ctx, path)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeCorruptRecord), "got %v", err)
}
