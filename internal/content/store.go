package content

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
)

// TreeStore answers lookups against one tree. Handlers build one per request
// from the snapshot they started with, so a reload mid-request cannot mix
// two versions of the content.
type TreeStore struct {
	Tree *Tree
}

func (s TreeStore) Exists(_ context.Context, p contentpath.Path) (bool, error) {
	if s.Tree == nil {
		return false, ErrNoSnapshot
	}
	return s.Tree.Has(p), nil
}

// GetByPath returns ErrNotFound when p is not in the tree.
func (s TreeStore) GetByPath(_ context.Context, p contentpath.Path) (Item, error) {
	if s.Tree == nil {
		return Item{}, ErrNoSnapshot
	}
	it, ok := s.Tree.Get(p)
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}

func (s TreeStore) Children(_ context.Context, parent contentpath.Path) ([]Item, error) {
	if s.Tree == nil {
		return nil, ErrNoSnapshot
	}
	return s.Tree.Children(parent), nil
}
