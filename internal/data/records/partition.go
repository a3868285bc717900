package records

import (
	"os"
	"sort"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/shared/util"
)

// Components lists the component partitions under the records directory in
// sorted order. A missing records directory is NOT_FOUND: the root was never
// written by a collector.
func (l Layout) Components() ([]string, error) {
	entries, err := os.ReadDir(l.RecordsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.AddContext(
				coreerrors.Wrap(err, coreerrors.CodeNotFound, "no records directory"),
				coreerrors.CtxPath, l.RecordsDir(),
			)
		}
		return nil, coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "list component partitions"),
			coreerrors.CtxPath, l.RecordsDir(),
		)
	}
	components := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			components = append(components, entry.Name())
		}
	}
	sort.Strings(components)
	return components, nil
}

// Versions lists the versions that have a record file in a component
// partition, in natural version order.
func (l Layout) Versions(component string) ([]string, error) {
	dir := l.ComponentDir(component)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "list versions"),
			coreerrors.CtxPath, dir,
		)
	}
	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if version, ok := VersionFromFileName(entry.Name()); ok {
			versions = append(versions, version)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return util.CompareVersions(versions[i], versions[j]) < 0
	})
	return versions, nil
}

// HasVersion reports whether the record file for a version already exists.
func (l Layout) HasVersion(component, version string) bool {
	return util.FileExists(l.VersionPath(component, version))
}
