package formats

import "strings"

var tsvReplacer = strings.NewReplacer("\t", " ", "\r", " ", "\n", " ")

// tsvField keeps a value on one TSV cell.
func tsvField(s string) string {
	return tsvReplacer.Replace(s)
}
