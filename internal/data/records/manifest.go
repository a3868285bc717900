package records

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/shared/util"
)

const manifestSchemaVersion = 1

// Manifest describes one component partition. Complete is set once every
// version of the repository has a record file, which lets later runs skip
// the component without touching the network.
type Manifest struct {
	SchemaVersion int           `json:"schema_version"`
	RunID         string        `json:"run_id"`
	Component     string        `json:"component"`
	RepoURL       string        `json:"repo_url"`
	Complete      bool          `json:"complete"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Versions      []VersionInfo `json:"versions"`
}

// VersionInfo carries per-version statistics.
type VersionInfo struct {
	Name          string     `json:"name"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	Files         int        `json:"files"`
	ParseFailures int        `json:"parse_failures"`
	Functions     int        `json:"functions"`
	Lines         int        `json:"lines"`
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.AddContext(
				coreerrors.Wrap(err, coreerrors.CodeNotFound, "manifest not found"),
				coreerrors.CtxPath, path,
			)
		}
		return nil, coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "read manifest"),
			coreerrors.CtxPath, path,
		)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "decode manifest"),
			coreerrors.CtxPath, path,
		)
	}
	return &m, nil
}

func SaveManifest(path string, m *Manifest) error {
	m.SchemaVersion = manifestSchemaVersion
	sort.Slice(m.Versions, func(i, j int) bool {
		return util.CompareVersions(m.Versions[i].Name, m.Versions[j].Name) < 0
	})
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeInternal, "encode manifest")
	}
	if err := util.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "write manifest"),
			coreerrors.CtxPath, path,
		)
	}
	return nil
}

// Version looks up the statistics recorded for name.
func (m *Manifest) Version(name string) (VersionInfo, bool) {
	for _, v := range m.Versions {
		if v.Name == name {
			return v, true
		}
	}
	return VersionInfo{}, false
}

// Upsert records info, replacing any entry with the same name.
func (m *Manifest) Upsert(info VersionInfo) {
	for i := range m.Versions {
		if m.Versions[i].Name == info.Name {
			m.Versions[i] = info
			return
		}
	}
	m.Versions = append(m.Versions, info)
}

// ReleaseDates maps version names to their release time for versions whose
// date is known.
func (m *Manifest) ReleaseDates() map[string]time.Time {
	out := make(map[string]time.Time, len(m.Versions))
	for _, v := range m.Versions {
		if v.ReleasedAt != nil {
			out[v.Name] = *v.ReleasedAt
		}
	}
	return out
}
