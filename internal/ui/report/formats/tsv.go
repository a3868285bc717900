package formats

import (
	"fmt"
	"strings"
)

type TSVGenerator struct{}

func NewTSVGenerator() *TSVGenerator {
	return &TSVGenerator{}
}

// Generate writes one row per reported component.
func (t *TSVGenerator) Generate(r Report) (string, error) {
	var buf strings.Builder

	buf.WriteString("Component\tVersion\tScore\tMatched\tTotal\tRepository\n")
	for _, hit := range r.Components {
		buf.WriteString(fmt.Sprintf("%s\t%s\t%.4f\t%d\t%d\t%s\n",
			tsvField(hit.ComponentID),
			tsvField(hit.Version),
			hit.Score,
			hit.MatchedHashCount,
			hit.TotalFunctions,
			tsvField(hit.RepoURL),
		))
	}
	return buf.String(), nil
}
