package contentpath

import (
	"encoding/json"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		count   int
		wantErr bool
	}{
		{"", "/", 0, false},
		{"/", "/", 0, false},
		{"/a", "/a", 1, false},
		{"/a/b/c", "/a/b/c", 3, false},
		{"a/b", "/a/b", 2, false},
		{"//a///b/", "/a/b", 2, false},
		{"/a/../b", "", 0, true},
		{"/a/./b", "", 0, true},
		{"/a\\b", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if p.String() != tt.want {
				t.Fatalf("String() = %q, want %q", p.String(), tt.want)
			}
			if p.ElementCount() != tt.count {
				t.Fatalf("ElementCount() = %d, want %d", p.ElementCount(), tt.count)
			}
		})
	}
}

func TestAppend_DoesNotAliasBase(t *testing.T) {
	base := MustParse("/a/b")
	x := Append(base, "x")
	y := Append(base, "y")

	if x.String() != "/a/b/x" || y.String() != "/a/b/y" {
		t.Fatalf("Append results = %s, %s", x, y)
	}
	if base.String() != "/a/b" {
		t.Fatalf("base modified: %s", base)
	}

	// appending to a parent that shares backing storage must not clobber siblings
	parent := MustParse("/a/b/c").Parent()
	z := Append(parent, "z")
	if z.String() != "/a/b/z" {
		t.Fatalf("Append(parent) = %s", z)
	}
	if Append(Root, "a").String() != "/a" {
		t.Fatal("Append(Root, a) should be /a")
	}
}

func TestElementAccess(t *testing.T) {
	p := MustParse("/site/blog/post")
	want := []string{"site", "blog", "post"}
	for i, w := range want {
		if got := p.Element(i); got != w {
			t.Fatalf("Element(%d) = %q, want %q", i, got, w)
		}
	}
	if p.Name() != "post" || Root.Name() != "" {
		t.Fatal("Name mismatch")
	}
}

func TestParentAndPrefix(t *testing.T) {
	p := MustParse("/a/b/c")
	if p.Parent().String() != "/a/b" {
		t.Fatalf("Parent() = %s", p.Parent())
	}
	if !Root.Parent().IsRoot() || !MustParse("/a").Parent().IsRoot() {
		t.Fatal("parent of a top-level path and of root should be root")
	}
	for n, want := range map[int]string{-1: "/", 0: "/", 1: "/a", 2: "/a/b", 3: "/a/b/c", 9: "/a/b/c"} {
		if got := p.Prefix(n).String(); got != want {
			t.Fatalf("Prefix(%d) = %s, want %s", n, got, want)
		}
	}
}

func TestHasPrefix(t *testing.T) {
	p := MustParse("/a/b/c")
	tests := []struct {
		ancestor string
		want     bool
	}{
		{"/", true},
		{"/a", true},
		{"/a/b", true},
		{"/a/b/c", true},
		{"/a/b/c/d", false},
		{"/a/x", false},
		{"/ab", false},
	}
	for _, tt := range tests {
		if got := p.HasPrefix(MustParse(tt.ancestor)); got != tt.want {
			t.Fatalf("HasPrefix(%s) = %v, want %v", tt.ancestor, got, tt.want)
		}
	}
	if !p.Equal(FromElements("a", "", "b", "c")) {
		t.Fatal("FromElements should drop empty segments")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type doc struct {
		Path Path `json:"path"`
	}
	b, err := json.Marshal(doc{Path: MustParse("/a/b")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"path":"/a/b"}` {
		t.Fatalf("json = %s", b)
	}
	var got doc
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Path.String() != "/a/b" {
		t.Fatalf("decoded %s", got.Path)
	}
}
