// Package contentpath models a location in the content hierarchy as an
// immutable list of segments under a single root.
package contentpath

import (
	"encoding/json"
	"strings"

	"github.com/keithlinneman/linnemanlabs-menu/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

// Path is an absolute content path. The zero value is Root.
// Values are never modified after construction, so they can be shared freely.
type Path struct {
	segs []string
}

// Root is the top of the hierarchy, rendered as "/".
var Root = Path{}

// Parse splits s on "/" and drops empty segments, so "/a//b/" == "/a/b".
// Only ambiguous input (dot segments, NUL, backslash, control characters) is rejected.
func Parse(s string) (Path, error) {
	if err := pathutil.CheckSafe(s); err != nil {
		return Root, xerrors.Wrapf(err, "parse content path %q", s)
	}
	var segs []string
	for _, seg := range strings.Split(s, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return Path{segs: segs}, nil
}

// MustParse is Parse for literals; it panics on invalid input.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// FromElements builds a path from already split segments. Empty segments are dropped.
func FromElements(elems ...string) Path {
	segs := make([]string, 0, len(elems))
	for _, e := range elems {
		if e != "" {
			segs = append(segs, e)
		}
	}
	if len(segs) == 0 {
		return Root
	}
	return Path{segs: segs}
}

// Append returns base with seg added as the last element. base is not modified.
func Append(base Path, seg string) Path {
	segs := make([]string, len(base.segs), len(base.segs)+1)
	copy(segs, base.segs)
	return Path{segs: append(segs, seg)}
}

func (p Path) ElementCount() int { return len(p.segs) }

// Element returns the i-th segment, counting from the root. It panics when
// i is out of range, like a slice index.
func (p Path) Element(i int) string { return p.segs[i] }

func (p Path) IsRoot() bool { return len(p.segs) == 0 }

// Name is the last segment, "" for Root.
func (p Path) Name() string {
	if p.IsRoot() {
		return ""
	}
	return p.segs[len(p.segs)-1]
}

// Parent returns the path one level up. The parent of Root is Root.
func (p Path) Parent() Path {
	if len(p.segs) <= 1 {
		return Root
	}
	n := len(p.segs) - 1
	return Path{segs: p.segs[:n:n]}
}

// Prefix returns the ancestor made of the first n segments.
func (p Path) Prefix(n int) Path {
	if n <= 0 {
		return Root
	}
	if n >= len(p.segs) {
		return p
	}
	return Path{segs: p.segs[:n:n]}
}

// HasPrefix reports whether ancestor is p itself or one of p's ancestors.
func (p Path) HasPrefix(ancestor Path) bool {
	if len(ancestor.segs) > len(p.segs) {
		return false
	}
	for i, seg := range ancestor.segs {
		if p.segs[i] != seg {
			return false
		}
	}
	return true
}

func (p Path) Equal(o Path) bool {
	return len(p.segs) == len(o.segs) && p.HasPrefix(o)
}

func (p Path) String() string {
	if p.IsRoot() {
		return "/"
	}
	return "/" + strings.Join(p.segs, "/")
}

func (p Path) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Path) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

var _ json.Marshaler = Path{}

// MarshalJSON renders the path as a JSON string.
func (p Path) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }
