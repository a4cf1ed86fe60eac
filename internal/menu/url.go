package menu

import (
	"strings"

	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
)

type URLType string

const (
	URLServer   URLType = "server"
	URLAbsolute URLType = "absolute"
)

// ParseURLType returns URLAbsolute for "absolute" (any case) and URLServer for anything else.
func ParseURLType(s string) URLType {
	if strings.EqualFold(strings.TrimSpace(s), string(URLAbsolute)) {
		return URLAbsolute
	}
	return URLServer
}

// URLBuilder renders page URLs for content paths. Paths under Root are made
// relative to it (the way a virtual host maps a site), Prefix is prepended for
// server URLs and BaseURL again for absolute ones.
type URLBuilder struct {
	BaseURL string
	Prefix  string
	Root    contentpath.Path
}

func (b URLBuilder) URL(p contentpath.Path, t URLType) string {
	if !b.Root.IsRoot() && p.HasPrefix(b.Root) {
		p = contentpath.FromElements(elementsFrom(p, b.Root.ElementCount())...)
	}
	u := p.String()
	if pre := strings.TrimRight(b.Prefix, "/"); pre != "" {
		if p.IsRoot() {
			u = pre
		} else {
			u = pre + u
		}
	}
	if t == URLAbsolute {
		return strings.TrimRight(b.BaseURL, "/") + u
	}
	return u
}

func elementsFrom(p contentpath.Path, start int) []string {
	out := make([]string, 0, p.ElementCount()-start)
	for i := start; i < p.ElementCount(); i++ {
		out = append(out, p.Element(i))
	}
	return out
}
