// Package hashdb holds the Component Hash Database: an arena of
// (component, version) entries plus an index from function hash to the
// entries that contain it.
package hashdb

import (
	"slices"
	"time"

	"ossmatch/internal/engine/fingerprint"
)

const (
	ModeFull = "full"
	ModeLite = "lite"
)

// EntryID indexes Database entries.
type EntryID uint32

// Entry is one component version (full mode) or one component (lite mode,
// Version empty). TotalFunctions is the denominator used for scoring.
type Entry struct {
	ID             EntryID
	ComponentID    string
	Version        string
	RepoURL        string
	TotalFunctions int
	ReleasedAt     time.Time
}

// Meta describes how and when a database was built.
type Meta struct {
	Mode    string
	RunID   string
	BuiltAt time.Time
}

// Database is immutable once built and safe for concurrent readers.
type Database struct {
	meta    Meta
	entries []Entry
	index   map[fingerprint.Hash][]EntryID
}

func (db *Database) Mode() string { return db.meta.Mode }

func (db *Database) Meta() Meta { return db.meta }

// Lookup returns the entries whose hash set contains h. The returned slice is
// shared and must not be modified.
func (db *Database) Lookup(h fingerprint.Hash) []EntryID {
	return db.index[h]
}

func (db *Database) Entry(id EntryID) Entry {
	return db.entries[id]
}

// Entries returns a copy of every entry ordered by id.
func (db *Database) Entries() []Entry {
	return slices.Clone(db.entries)
}

func (db *Database) EntryCount() int { return len(db.entries) }

// HashCount returns the number of distinct hashes.
func (db *Database) HashCount() int { return len(db.index) }

// PairCount returns the number of (hash, entry) pairs.
func (db *Database) PairCount() int {
	n := 0
	for _, ids := range db.index {
		n += len(ids)
	}
	return n
}

// SharedHashCount returns the number of hashes present in more than one
// component.
func (db *Database) SharedHashCount() int {
	shared := 0
	for _, ids := range db.index {
		if len(ids) < 2 {
			continue
		}
		first := db.entries[ids[0]].ComponentID
		for _, id := range ids[1:] {
			if db.entries[id].ComponentID != first {
				shared++
				break
			}
		}
	}
	return shared
}

// Builder is the only way to populate a Database. It is not safe for
// concurrent use and must be discarded after Build.
type Builder struct {
	meta    Meta
	entries []Entry
	index   map[fingerprint.Hash][]EntryID
	built   bool
}

func NewBuilder(meta Meta) *Builder {
	return &Builder{
		meta:  meta,
		index: make(map[fingerprint.Hash][]EntryID),
	}
}

// AddEntry appends an entry and returns its assigned id.
func (b *Builder) AddEntry(e Entry) EntryID {
	e.ID = EntryID(len(b.entries))
	b.entries = append(b.entries, e)
	return e.ID
}

// SetTotalFunctions overrides an entry's scoring denominator.
func (b *Builder) SetTotalFunctions(id EntryID, total int) {
	b.entries[id].TotalFunctions = total
}

func (b *Builder) SetRepoURL(id EntryID, url string) {
	b.entries[id].RepoURL = url
}

func (b *Builder) SetReleasedAt(id EntryID, t time.Time) {
	b.entries[id].ReleasedAt = t
}

// AddHash records that entry id contains h. Repeated pairs are ignored.
// Each posting list stays sorted; ids added in ascending order append.
func (b *Builder) AddHash(id EntryID, h fingerprint.Hash) bool {
	ids := b.index[h]
	n := len(ids)
	if n == 0 || ids[n-1] < id {
		b.index[h] = append(ids, id)
		return true
	}
	i, found := slices.BinarySearch(ids, id)
	if found {
		return false
	}
	b.index[h] = slices.Insert(ids, i, id)
	return true
}

// Build freezes the builder's contents into a Database.
func (b *Builder) Build() *Database {
	if b.built {
		panic("hashdb: Builder reused after Build")
	}
	b.built = true
	for h, ids := range b.index {
		b.index[h] = slices.Clip(ids)
	}
	db := &Database{meta: b.meta, entries: b.entries, index: b.index}
	b.entries, b.index = nil, nil
	return db
}
