package records

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/engine/fingerprint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentIDFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://github.com/madler/zlib", "madler@@zlib"},
		{"https://github.com/madler/zlib.git", "madler@@zlib"},
		{"https://github.com/madler/zlib/", "madler@@zlib"},
		{"git@github.com:openssl/openssl.git", "openssl@@openssl"},
		{"ssh://git@gitlab.com/group/sub/lib.git", "sub@@lib"},
		{"/srv/mirrors/acme/libfoo", "acme@@libfoo"},
		{"https://example.com/we ird/na:me", "we_ird@@na_me"},
	}
	for _, tc := range cases {
		got, err := ComponentIDFromURL(tc.url)
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.want, got, tc.url)
	}

	for _, bad := range []string{"", "zlib", "https://github.com/"} {
		_, err := ComponentIDFromURL(bad)
		assert.Error(t, err, bad)
	}

	owner, name, ok := SplitComponentID("madler@@zlib")
	assert.True(t, ok)
	assert.Equal(t, "madler", owner)
	assert.Equal(t, "zlib", name)
}

func TestVersionFileNames(t *testing.T) {
	for _, version := range []string{"v1.2.3", "release/2024-01", UnknownVersion, "with space"} {
		name := VersionFileName(version)
		assert.NotContains(t, name, "/")
		got, ok := VersionFromFileName(name)
		require.True(t, ok, name)
		assert.Equal(t, version, got)
	}
	_, ok := VersionFromFileName("manifest.json")
	assert.False(t, ok)
	_, ok = VersionFromFileName(".v1.jsonl.tmp-123")
	assert.False(t, ok)
}

func sampleRecord(component, version, fn string) RawHashRecord {
	return RawHashRecord{
		Component: component,
		Version:   version,
		RepoURL:   "https://github.com/acme/libfoo",
		File:      "src/foo.c",
		Function:  fn,
		StartLine: 1,
		EndLine:   3,
		Hash:      fingerprint.Sum("{" + fn + "}"),
	}
}

func TestWriteAndReadVersion(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	path := layout.VersionPath("acme@@libfoo", "v1.0")
	want := []RawHashRecord{
		sampleRecord("acme@@libfoo", "v1.0", "a"),
		sampleRecord("acme@@libfoo", "v1.0", "b"),
	}
	require.NoError(t, WriteVersion(path, want))
	assert.True(t, layout.HasVersion("acme@@libfoo", "v1.0"))

	var got []RawHashRecord
	stats, err := ReadVersion(path, "acme@@libfoo", func(rec RawHashRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ReadStats{Records: 2}, stats)
	assert.Equal(t, want, got)
}

func TestReadVersion_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v1.jsonl")
	good := sampleRecord("acme@@libfoo", "v1", "good")
	require.NoError(t, WriteVersion(path, []RawHashRecord{good}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := []string{
		"{not json",
		`{"component":"acme@@libfoo","version":"v1","hash":"zz"}`,
		`{"component":"acme@@libfoo","version":"v1"}`,
		strings.Replace(strings.TrimSpace(string(data)), "acme@@libfoo", "other@@lib", 1),
		"",
	}
	corrupted := string(data) + strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(corrupted), 0o644))

	var got []RawHashRecord
	stats, err := ReadVersion(path, "acme@@libfoo", func(rec RawHashRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, 4, stats.Corrupt)
	require.Len(t, got, 1)
	assert.Equal(t, good, got[0])
}

func TestReadVersion_SkipsOversizedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.jsonl")
	before := []RawHashRecord{
		sampleRecord("acme@@libfoo", "v1", "a"),
		sampleRecord("acme@@libfoo", "v1", "b"),
	}
	after := sampleRecord("acme@@libfoo", "v1", "c")
	require.NoError(t, WriteVersion(path, before))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	junk := strings.Repeat("x", 2*maxRecordLine)
	tail, err := os.ReadFile(writeTemp(t, []RawHashRecord{after}))
	require.NoError(t, err)
	// The last record has no trailing newline.
	content := string(data) + junk + "\n" + strings.TrimSuffix(string(tail), "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	var got []RawHashRecord
	stats, err := ReadVersion(path, "acme@@libfoo", func(rec RawHashRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ReadStats{Records: 3, Corrupt: 1}, stats)
	assert.Equal(t, append(before, after), got)
}

func writeTemp(t *testing.T, recs []RawHashRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tmp.jsonl")
	require.NoError(t, WriteVersion(path, recs))
	return path
}

func TestComponents_MissingRecordsDirectory(t *testing.T) {
	_, err := Layout{Root: filepath.Join(t.TempDir(), "absent")}.Components()
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeNotFound))
}

func TestReadVersion_MissingFile(t *testing.T) {
	_, err := ReadVersion(filepath.Join(t.TempDir(), "nope.jsonl"), "", func(RawHashRecord) error { return nil })
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeTransientIO))
}

func TestManifestRoundTripAndPartitions(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	component := "acme@@libfoo"

	_, err := LoadManifest(layout.ManifestPath(component))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeNotFound))

	released := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	m := &Manifest{Component: component, RepoURL: "https://github.com/acme/libfoo"}
	m.Upsert(VersionInfo{Name: "v1.10", Functions: 3})
	m.Upsert(VersionInfo{Name: "v1.9", ReleasedAt: &released, Functions: 2})
	m.Upsert(VersionInfo{Name: "v1.10", Functions: 4})
	m.Complete = true
	require.NoError(t, SaveManifest(layout.ManifestPath(component), m))

	loaded, err := LoadManifest(layout.ManifestPath(component))
	require.NoError(t, err)
	assert.True(t, loaded.Complete)
	require.Len(t, loaded.Versions, 2)
	assert.Equal(t, "v1.9", loaded.Versions[0].Name)
	v, ok := loaded.Version("v1.10")
	require.True(t, ok)
	assert.Equal(t, 4, v.Functions)
	assert.Equal(t, map[string]time.Time{"v1.9": released}, loaded.ReleaseDates())

	require.NoError(t, WriteVersion(layout.VersionPath(component, "v1.10"), nil))
	require.NoError(t, WriteVersion(layout.VersionPath(component, "v1.9"), nil))
	require.NoError(t, WriteVersion(layout.VersionPath("zeta@@z", UnknownVersion), nil))

	components, err := layout.Components()
	require.NoError(t, err)
	assert.Equal(t, []string{component, "zeta@@z"}, components)

	versions, err := layout.Versions(component)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.9", "v1.10"}, versions)
}

func TestLoadManifest_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadManifest(path)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeCorruptRecord))
}
