package fingerprint

import "strings"

// Normalize strips everything that does not contribute to a function body's
// identity: comments, indentation, blank lines, line-ending style and spacing
// between tokens. String and character literals are copied verbatim, so
// comment markers inside them survive. A single space is kept only where
// dropping whitespace would fuse two identifier or number tokens.
//
// Renamed identifiers and reordered statements produce different output.
func Normalize(body string) string {
	src := body
	n := len(src)

	var b strings.Builder
	b.Grow(n)

	var last byte
	pendingSpace := false
	emit := func(c byte) {
		if pendingSpace && isWordByte(last) && isWordByte(c) {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteByte(c)
		last = c
	}

	for i := 0; i < n; {
		c := src[i]
		switch {
		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' && src[i] != '\r' {
				i++
			}
			pendingSpace = true
		case c == '/' && i+1 < n && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				i = n
			} else {
				i += 2 + end + 2
			}
			pendingSpace = true
		case c == '"' || c == '\'':
			end := literalEnd(src, i)
			emit(c)
			for j := i + 1; j < end; j++ {
				lc := src[j]
				if lc == '\r' {
					continue
				}
				b.WriteByte(lc)
				last = lc
			}
			i = end
		case isSpace(c):
			pendingSpace = true
			i++
		default:
			emit(c)
			i++
		}
	}
	return b.String()
}

// literalEnd returns the index just past the string or char literal opening
// at start. Unterminated literals end at the line break.
func literalEnd(src string, start int) int {
	quote := src[start]
	for j := start + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		case '\n':
			return j
		}
	}
	return len(src)
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func isWordByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c >= 0x80
}
