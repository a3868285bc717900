package util

import "strings"

// CompareVersions orders version labels naturally: runs of digits compare as
// numbers and everything else compares bytewise, so v1.10 sorts after v1.9.
// Labels that compare equal that way fall back to plain string order, making
// the result a total order. Returns -1, 0 or 1.
func CompareVersions(a, b string) int {
	ra, rb := a, b
	for ra != "" && rb != "" {
		ca, restA := nextVersionChunk(ra)
		cb, restB := nextVersionChunk(rb)
		if c := compareChunk(ca, cb); c != 0 {
			return c
		}
		ra, rb = restA, restB
	}
	switch {
	case ra == "" && rb != "":
		return -1
	case ra != "" && rb == "":
		return 1
	}
	return strings.Compare(a, b)
}

func nextVersionChunk(s string) (string, string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

func compareChunk(a, b string) int {
	if isDigit(a[0]) && isDigit(b[0]) {
		a = strings.TrimLeft(a, "0")
		b = strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
