package content

import (
	"cmp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

// idNamespace seeds name-based IDs for items that do not carry one, so the
// same path always gets the same ID across reloads.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://linnemanlabs.com/content"))

// Tree is an immutable index of items by path. Safe for concurrent reads.
type Tree struct {
	items    map[string]Item
	children map[string][]string
	order    []string
}

// NewTree indexes items. Items keep their input order as the manual child order.
// Duplicate paths or IDs are rejected.
func NewTree(items []Item) (*Tree, error) {
	t := &Tree{
		items:    make(map[string]Item, len(items)),
		children: make(map[string][]string),
		order:    make([]string, 0, len(items)),
	}
	ids := make(map[string]string, len(items))

	for _, it := range items {
		key := it.Path.String()
		if _, dup := t.items[key]; dup {
			return nil, xerrors.Newf("duplicate content path %s", key)
		}
		if it.ID == "" {
			it.ID = ItemID(it.Path)
		}
		if other, dup := ids[it.ID]; dup {
			return nil, xerrors.Newf("duplicate content id %s (%s and %s)", it.ID, other, key)
		}
		ids[it.ID] = key
		t.items[key] = it
		t.order = append(t.order, key)

		if !it.Path.IsRoot() {
			parent := it.Path.Parent().String()
			t.children[parent] = append(t.children[parent], key)
		}
	}
	return t, nil
}

// ItemID returns the deterministic ID assigned to an item at p.
func ItemID(p contentpath.Path) string {
	return uuid.NewSHA1(idNamespace, []byte(p.String())).String()
}

func (t *Tree) Len() int { return len(t.items) }

func (t *Tree) Has(p contentpath.Path) bool {
	_, ok := t.items[p.String()]
	return ok
}

func (t *Tree) Get(p contentpath.Path) (Item, bool) {
	it, ok := t.items[p.String()]
	return it, ok
}

// Items returns every item in document order.
func (t *Tree) Items() []Item {
	out := make([]Item, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.items[k])
	}
	return out
}

// Children returns the direct children of parent ordered by the parent's ChildOrder.
// Children of a path that is not itself an item keep document order.
func (t *Tree) Children(parent contentpath.Path) []Item {
	keys := t.children[parent.String()]
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.items[k])
	}
	if p, ok := t.items[parent.String()]; ok {
		SortChildren(out, p.ChildOrder)
	}
	return out
}

// SortChildren orders items in place according to a child order expression such as
// "displayName ASC" or "modifiedTime DESC". Unknown or empty expressions leave the
// slice untouched.
func SortChildren(items []Item, childOrder string) {
	field, desc := parseChildOrder(childOrder)

	var less func(a, b Item) int
	switch field {
	case "displayname":
		less = func(a, b Item) int {
			return cmp.Compare(strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName))
		}
	case "modifiedtime":
		less = func(a, b Item) int { return a.ModifiedTime.Compare(b.ModifiedTime) }
	case "name", "_name":
		less = func(a, b Item) int { return cmp.Compare(a.Name(), b.Name()) }
	default:
		return
	}
	if desc {
		asc := less
		less = func(a, b Item) int { return asc(b, a) }
	}
	slices.SortStableFunc(items, less)
}

func parseChildOrder(s string) (field string, desc bool) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return "", false
	}
	field = strings.ToLower(parts[0])
	if len(parts) > 1 {
		desc = strings.EqualFold(parts[1], "DESC")
	}
	return field, desc
}
