package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	coreerrors "ossmatch/internal/core/errors"
)

// CtagsTagger shells out to universal-ctags. ctags reports only line ranges,
// so the body is sliced from the first '{' to the last '}' inside the span,
// which matches the compound statement the tree-sitter backend hashes.
type CtagsTagger struct {
	binary    string
	language  string
	ctagsLang string
	extension string
}

func NewCtagsTagger(binary, language, ctagsLang, extension string) *CtagsTagger {
	return &CtagsTagger{
		binary:    binary,
		language:  language,
		ctagsLang: ctagsLang,
		extension: extension,
	}
}

func (c *CtagsTagger) Tag(path string, source []byte) ([]FunctionSpan, error) {
	// ctags reads from disk; the content passed in may come from a git blob
	// and not exist at path.
	tmp, err := os.CreateTemp("", "ossmatch-ctags-*"+c.extension)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeTransientIO, "create ctags input")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(source); err != nil {
		tmp.Close()
		return nil, coreerrors.Wrap(err, coreerrors.CodeTransientIO, "write ctags input")
	}
	if err := tmp.Close(); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeTransientIO, "write ctags input")
	}

	cmd := exec.Command(c.binary,
		"-f", "-",
		"--excmd=number",
		"--fields=+neK",
		"--kinds-C=f",
		"--kinds-C++=f",
		"--language-force="+c.ctagsLang,
		tmp.Name(),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		failure := coreerrors.Wrap(
			fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())),
			coreerrors.CodeParseFailure,
			"ctags failed",
		)
		return nil, coreerrors.AddContext(failure, coreerrors.CtxPath, path)
	}

	return spansFromCtags(stdout.Bytes(), source), nil
}

type ctagsEntry struct {
	name  string
	kind  string
	start int
	end   int
}

func parseCtagsLine(line string) (ctagsEntry, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < 4 || strings.HasPrefix(line, "!_TAG_") {
		return ctagsEntry{}, false
	}
	entry := ctagsEntry{name: fields[0]}
	for _, field := range fields[3:] {
		key, value, found := strings.Cut(field, ":")
		if !found {
			// Without --fields=+K the kind is a bare letter.
			if entry.kind == "" {
				entry.kind = field
			}
			continue
		}
		switch key {
		case "line":
			entry.start, _ = strconv.Atoi(value)
		case "end":
			entry.end, _ = strconv.Atoi(value)
		case "kind":
			entry.kind = value
		}
	}
	if entry.kind != "function" && entry.kind != "f" {
		return ctagsEntry{}, false
	}
	if entry.start <= 0 || entry.end < entry.start {
		return ctagsEntry{}, false
	}
	return entry, true
}

func spansFromCtags(output, source []byte) []FunctionSpan {
	lineStarts := lineOffsets(source)
	var spans []FunctionSpan

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry, ok := parseCtagsLine(scanner.Text())
		if !ok || entry.end > len(lineStarts) {
			continue
		}
		startByte := lineStarts[entry.start-1]
		endByte := len(source)
		if entry.end < len(lineStarts) {
			endByte = lineStarts[entry.end]
		}
		region := source[startByte:endByte]
		open := bytes.IndexByte(region, '{')
		closing := bytes.LastIndexByte(region, '}')
		if open < 0 || closing < open {
			continue
		}
		spans = append(spans, FunctionSpan{
			Name:      entry.name,
			StartLine: entry.start,
			EndLine:   entry.end,
			StartByte: startByte,
			EndByte:   startByte + closing + 1,
			BodyStart: startByte + open,
			BodyEnd:   startByte + closing + 1,
		})
	}

	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].StartByte < spans[j].StartByte
	})
	return spans
}

// lineOffsets returns the byte offset at which every 1-based line begins.
func lineOffsets(source []byte) []int {
	offsets := []int{0}
	for i, b := range source {
		if b == '\n' && i+1 < len(source) {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}
