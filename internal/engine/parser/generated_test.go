package parser

import "testing"

func TestIsGeneratedFile(t *testing.T) {
	cases := []struct {
		path    string
		content string
		want    bool
	}{
		{"src/util.c", "int f(void) { return 0; }", false},
		{"proto/msg.pb.cc", "", true},
		{"ui/moc_window.cpp", "", true},
		{"parse.c", "/* A Bison parser, made by GNU Bison 3.8. */", true},
		{"lex.c", "/* A lexical scanner generated by flex */", true},
		{"gen.h", "// Code generated by tool. DO NOT EDIT.\n", true},
		{"big.c", string(make([]byte, 4096)) + "DO NOT EDIT", false},
	}
	for _, tc := range cases {
		if got := IsGeneratedFile(tc.path, []byte(tc.content)); got != tc.want {
			t.Errorf("IsGeneratedFile(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
