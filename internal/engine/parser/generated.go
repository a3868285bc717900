package parser

import (
	"bytes"
	"path/filepath"
	"strings"
)

const generatedHeaderWindow = 2048

var generatedMarkers = [][]byte{
	[]byte("code generated"),
	[]byte("do not edit"),
	[]byte("@generated"),
	[]byte("autogenerated"),
	[]byte("auto-generated"),
	[]byte("automatically generated"),
	[]byte("a bison parser"),
	[]byte("a lexical scanner generated by flex"),
}

var generatedSuffixes = []string{
	".pb.c", ".pb.cc", ".pb.h",
	".pb-c.c", ".pb-c.h",
	"_generated.h", "_generated.c", "_generated.cc",
	".moc.cpp",
}

// IsGeneratedFile reports whether a file looks machine generated, judged from
// its name and the banner in the first couple of kilobytes.
func IsGeneratedFile(path string, content []byte) bool {
	base := strings.ToLower(filepath.Base(path))
	if strings.HasPrefix(base, "moc_") {
		return true
	}
	for _, suffix := range generatedSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}

	head := content
	if len(head) > generatedHeaderWindow {
		head = head[:generatedHeaderWindow]
	}
	head = bytes.ToLower(head)
	for _, marker := range generatedMarkers {
		if bytes.Contains(head, marker) {
			return true
		}
	}
	return false
}
