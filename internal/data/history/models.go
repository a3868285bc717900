// Package history keeps a record of detection runs per project so repeated
// scans can report which components appeared, disappeared or changed version.
package history

import (
	"sort"
	"time"
)

const SchemaVersion = 1

// Scan is one detection run.
type Scan struct {
	RunID           string
	ProjectKey      string
	Timestamp       time.Time
	DatabaseMode    string
	Threshold       float64
	FilesScanned    int
	FunctionsHashed int
	ParseFailures   int
	Components      []Component
}

// Component is a reported component as stored with its scan.
type Component struct {
	ComponentID      string
	Version          string
	Score            float64
	MatchedHashCount int
	TotalFunctions   int
}

type VersionChange struct {
	ComponentID string
	From        string
	To          string
}

// Diff describes how a scan's components differ from the scan before it.
type Diff struct {
	Added   []Component
	Removed []Component
	Changed []VersionChange
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare returns the component changes from prev to cur, sorted by id.
func Compare(prev, cur Scan) Diff {
	before := make(map[string]Component, len(prev.Components))
	for _, c := range prev.Components {
		before[c.ComponentID] = c
	}
	after := make(map[string]Component, len(cur.Components))
	for _, c := range cur.Components {
		after[c.ComponentID] = c
	}

	var d Diff
	for id, c := range after {
		old, ok := before[id]
		switch {
		case !ok:
			d.Added = append(d.Added, c)
		case old.Version != c.Version:
			d.Changed = append(d.Changed, VersionChange{ComponentID: id, From: old.Version, To: c.Version})
		}
	}
	for id, c := range before {
		if _, ok := after[id]; !ok {
			d.Removed = append(d.Removed, c)
		}
	}

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].ComponentID < d.Added[j].ComponentID })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].ComponentID < d.Removed[j].ComponentID })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].ComponentID < d.Changed[j].ComponentID })
	return d
}
