package formats

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"ossmatch/internal/data/records"
	"ossmatch/internal/engine/detector"

	"github.com/google/uuid"
)

// CycloneDX 1.4 JSON schema types.

type cdxBOM struct {
	BOMFormat    string         `json:"bomFormat"`
	SpecVersion  string         `json:"specVersion"`
	Version      int            `json:"version"`
	SerialNumber string         `json:"serialNumber"`
	Metadata     cdxMetadata    `json:"metadata"`
	Components   []cdxComponent `json:"components"`
}

type cdxMetadata struct {
	Timestamp string        `json:"timestamp"`
	Tools     []cdxTool     `json:"tools"`
	Component *cdxComponent `json:"component,omitempty"`
}

type cdxTool struct {
	Vendor  string `json:"vendor"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

type cdxComponent struct {
	BOMRef             string           `json:"bom-ref,omitempty"`
	Type               string           `json:"type"`
	Group              string           `json:"group,omitempty"`
	Name               string           `json:"name"`
	Version            string           `json:"version,omitempty"`
	PURL               string           `json:"purl,omitempty"`
	ExternalReferences []cdxExternalRef `json:"externalReferences,omitempty"`
	Properties         []cdxProperty    `json:"properties,omitempty"`
}

type cdxExternalRef struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type cdxProperty struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CycloneDXGenerator lists every reported component as a library in a
// CycloneDX 1.4 BOM.
type CycloneDXGenerator struct {
	// NewSerial is replaceable for deterministic output in tests.
	NewSerial func() string
}

func NewCycloneDXGenerator() *CycloneDXGenerator {
	return &CycloneDXGenerator{NewSerial: uuid.NewString}
}

func (g *CycloneDXGenerator) Generate(r Report) ([]byte, error) {
	hits := append([]detector.Hit(nil), r.Components...)
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].ComponentID < hits[j].ComponentID
	})

	comps := make([]cdxComponent, 0, len(hits))
	for _, hit := range hits {
		comps = append(comps, componentFromHit(hit))
	}

	generated := r.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	bom := cdxBOM{
		BOMFormat:    "CycloneDX",
		SpecVersion:  "1.4",
		Version:      1,
		SerialNumber: "urn:uuid:" + g.NewSerial(),
		Metadata: cdxMetadata{
			Timestamp: generated.UTC().Format(time.RFC3339),
			Tools:     []cdxTool{{Vendor: "ossmatch", Name: "ossmatch", Version: nonEmpty(r.ToolVersion, "dev")}},
			Component: &cdxComponent{
				Type: "application",
				Name: nonEmpty(path.Base(strings.ReplaceAll(r.Project, "\\", "/")), "project"),
			},
		},
		Components: comps,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bom); err != nil {
		return nil, fmt.Errorf("failed to marshal CycloneDX JSON: %w", err)
	}
	return buf.Bytes(), nil
}

func componentFromHit(hit detector.Hit) cdxComponent {
	owner, name, ok := records.SplitComponentID(hit.ComponentID)
	if !ok {
		name = hit.ComponentID
	}
	purl := PackageURL(hit.RepoURL, owner, name, hit.Version)
	comp := cdxComponent{
		BOMRef:  nonEmpty(purl, hit.ComponentID),
		Type:    "library",
		Group:   owner,
		Name:    name,
		Version: hit.Version,
		PURL:    purl,
		Properties: []cdxProperty{
			{Name: "ossmatch:componentId", Value: hit.ComponentID},
			{Name: "ossmatch:score", Value: strconv.FormatFloat(hit.Score, 'f', 4, 64)},
			{Name: "ossmatch:matchedHashCount", Value: strconv.Itoa(hit.MatchedHashCount)},
			{Name: "ossmatch:totalFunctions", Value: strconv.Itoa(hit.TotalFunctions)},
		},
	}
	if hit.RepoURL != "" {
		comp.ExternalReferences = []cdxExternalRef{{Type: "vcs", URL: hit.RepoURL}}
	}
	return comp
}

// PackageURL builds a purl for a repository. GitHub, GitLab and Bitbucket
// hosts get their purl type, anything else is generic with a vcs_url
// qualifier. The version is omitted when empty, as for lite databases.
func PackageURL(repoURL, owner, name, version string) string {
	if name == "" {
		return ""
	}
	purlType := "generic"
	if u, err := url.Parse(repoURL); err == nil {
		switch strings.ToLower(strings.TrimPrefix(u.Hostname(), "www.")) {
		case "github.com":
			purlType = "github"
		case "gitlab.com":
			purlType = "gitlab"
		case "bitbucket.org":
			purlType = "bitbucket"
		}
	}

	var b strings.Builder
	b.WriteString("pkg:" + purlType + "/")
	if owner != "" {
		b.WriteString(url.PathEscape(strings.ToLower(owner)) + "/")
	}
	if purlType == "generic" {
		b.WriteString(url.PathEscape(name))
	} else {
		b.WriteString(url.PathEscape(strings.ToLower(name)))
	}
	if version != "" && version != records.UnknownVersion {
		b.WriteString("@" + url.PathEscape(version))
	}
	if purlType == "generic" && repoURL != "" {
		b.WriteString("?vcs_url=" + url.QueryEscape(repoURL))
	}
	return b.String()
}
