package fingerprint

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "{\n\treturn  a + b;\n}", "{return a+b;}"},
		{"keeps word separation", "{ unsigned int x = 0; }", "{unsigned int x=0;}"},
		{"drops line comment", "{ x++; // bump\n}", "{x++;}"},
		{"drops block comment", "{ /* multi\nline */ x++; }", "{x++;}"},
		{"comment between words keeps separation", "{ return/**/x; }", "{return x;}"},
		{"keeps comment markers in strings", "{ puts(\"// not a comment\"); }", "{puts(\"// not a comment\");}"},
		{"keeps block markers in strings", "{ s = \"/* x */\"; }", "{s=\"/* x */\";}"},
		{"keeps escaped quotes", "{ s = \"a\\\"//b\"; }", "{s=\"a\\\"//b\";}"},
		{"keeps spacing inside strings", "{ s = \"a  b\"; }", "{s=\"a  b\";}"},
		{"char literals", "{ c = '/'; d = '\\''; }", "{c='/';d='\\'';}"},
		{"crlf", "{\r\n  x = 1;\r\n}", "{x=1;}"},
		{"unterminated comment", "{ x = 1; /* dangling", "{x=1;"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizationInvariance(t *testing.T) {
	original := `{
    int i;
    for (i = 0; i < n; i++) {
        total += values[i];
    }
    return total;
}`
	variants := []string{
		// reindented with tabs and CRLF
		strings.ReplaceAll(strings.ReplaceAll(original, "    ", "\t"), "\n", "\r\n"),
		// comments added
		`{
    int i; /* loop index */
    // accumulate
    for (i = 0; i < n; i++) { total += values[i]; }
    return total; // done
}`,
		// everything on one line, extra spacing
		"{ int   i ; for ( i = 0 ; i < n ; i ++ ) { total += values [ i ] ; } return total ; }",
	}

	want := Of(original).Hash
	for i, v := range variants {
		if got := Of(v).Hash; got != want {
			t.Errorf("variant %d hashed differently:\n%s\n%s", i, Normalize(original), Normalize(v))
		}
	}
}

func TestFingerprintDistinguishesLogicalChanges(t *testing.T) {
	base := Of("{ return a + b; }").Hash
	changed := []string{
		"{ return a - b; }",
		"{ return x + b; }",      // renamed variable
		"{ return b + a; }",      // reordered operands
		"{ return \"a + b\"; }",  // literal content
		"{ return a + b; x(); }", // extra statement
	}
	for _, body := range changed {
		if Of(body).Hash == base {
			t.Errorf("expected %q to hash differently", body)
		}
	}
}

func TestDeterminism(t *testing.T) {
	body := "{ if (p == NULL) { return -1; } free(p); return 0; }"
	first := Of(body)
	for i := 0; i < 5; i++ {
		if got := Of(body); got != first {
			t.Fatalf("run %d produced %+v, want %+v", i, got, first)
		}
	}
}

func TestTrivialAndTokens(t *testing.T) {
	if fp := Of("{ }"); !fp.Trivial {
		t.Error("empty body must be trivial")
	}
	if fp := Of("{ /* nothing */ ; }"); !fp.Trivial {
		t.Error("comment-only body must be trivial")
	}
	fp := Of("{ return a+b; }")
	if fp.Trivial {
		t.Error("non-empty body must not be trivial")
	}
	// { return a + b ; }
	if fp.Tokens != 7 {
		t.Errorf("expected 7 tokens, got %d", fp.Tokens)
	}
}

func TestHashTextRoundTrip(t *testing.T) {
	h := Sum("{return 0;}")
	raw, err := json.Marshal(struct {
		Hash Hash `json:"hash"`
	}{h})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), h.String()) {
		t.Fatalf("expected hex hash in JSON, got %s", raw)
	}

	parsed, err := ParseHash(h.String())
	if err != nil || parsed != h {
		t.Fatalf("ParseHash round trip failed: %v", err)
	}
	if _, err := ParseHash("abc"); err == nil {
		t.Error("expected short hash to be rejected")
	}
	if _, err := ParseHash(strings.Repeat("zz", Size)); err == nil {
		t.Error("expected non-hex hash to be rejected")
	}
	if _, err := HashFromBytes(h[:4]); err == nil {
		t.Error("expected short byte slice to be rejected")
	}
}

func TestUsable(t *testing.T) {
	if Of("{ }").Usable(0) {
		t.Error("trivial body must never be usable")
	}
	fp := Of("{ return a+b; }")
	if !fp.Usable(7) || fp.Usable(8) {
		t.Errorf("token floor not applied: %+v", fp)
	}
}
