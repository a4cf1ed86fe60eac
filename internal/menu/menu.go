package menu

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-menu/internal/content"
	"github.com/keithlinneman/linnemanlabs-menu/internal/contentmap"
	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
)

// ChildLister returns the direct children of a path, already in the parent's child order.
type ChildLister interface {
	Children(ctx context.Context, parent contentpath.Path) ([]content.Item, error)
}

// Store is everything the Builder reads.
type Store interface {
	ChildLister
	Exists(ctx context.Context, p contentpath.Path) (bool, error)
	GetByPath(ctx context.Context, p contentpath.Path) (content.Item, error)
}

// Builder produces menus from a Store. It never modifies the store.
type Builder struct {
	store Store
	urls  URLBuilder
}

func NewBuilder(store Store, urls URLBuilder) *Builder {
	return &Builder{store: store, urls: urls}
}

// Item is one entry of a menu.
type Item struct {
	Title       string           `json:"title"`
	Path        string           `json:"path"`
	Name        string           `json:"name"`
	ID          string           `json:"id"`
	HasChildren bool             `json:"hasChildren"`
	InPath      bool             `json:"inPath"`
	IsActive    bool             `json:"isActive"`
	NewWindow   bool             `json:"newWindow"`
	Type        string           `json:"type"`
	URL         string           `json:"url"`
	Children    []Item           `json:"children"`
	Content     *contentmap.View `json:"content,omitempty"`
}

type Options struct {
	URLType URLType
	// ReturnContent embeds the mapped content in every item.
	ReturnContent bool
	// AriaLabel is only used by Tree. Defaults to "menu".
	AriaLabel string
}

// Tree is a site-wide menu.
type Tree struct {
	MenuItems []Item `json:"menuItems"`
	AriaLabel string `json:"ariaLabel"`
}

// Tree returns the menu below site, levels deep.
func (b *Builder) Tree(ctx context.Context, site content.Item, current contentpath.Path, levels int, opts Options) (Tree, error) {
	items, err := b.SubMenus(ctx, site, current, levels, opts)
	if err != nil {
		return Tree{}, err
	}
	label := opts.AriaLabel
	if label == "" {
		label = "menu"
	}
	return Tree{MenuItems: items, AriaLabel: label}, nil
}

// SubMenus returns the menu items below parent, levels deep (minimum 1).
// Only children flagged as menu items are included. A site that is itself a
// menu item is listed first, without children. current marks inPath and isActive.
func (b *Builder) SubMenus(ctx context.Context, parent content.Item, current contentpath.Path, levels int, opts Options) ([]Item, error) {
	if levels <= 0 {
		levels = 1
	}
	return b.subMenus(ctx, parent, current, levels, opts)
}

func (b *Builder) subMenus(ctx context.Context, parent content.Item, current contentpath.Path, levels int, opts Options) ([]Item, error) {
	out := []Item{}

	if parent.Type == content.TypeSite && parent.Menu.MenuItem {
		it, err := b.render(ctx, parent, current, 0, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}

	children, err := b.store.Children(ctx, parent.Path)
	if err != nil {
		return nil, err
	}

	levels--
	for _, child := range children {
		if !child.Menu.MenuItem {
			continue
		}
		it, err := b.render(ctx, child, current, levels, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

// render builds the item for c, recursing while levels > 0.
func (b *Builder) render(ctx context.Context, c content.Item, current contentpath.Path, levels int, opts Options) (Item, error) {
	children := []Item{}
	if levels > 0 {
		var err error
		children, err = b.subMenus(ctx, c, current, levels, opts)
		if err != nil {
			return Item{}, err
		}
	}

	isActive := current.Equal(c.Path)
	it := Item{
		Title:       c.MenuTitle(),
		Path:        c.Path.String(),
		Name:        c.Name(),
		ID:          c.ID,
		HasChildren: len(children) > 0,
		InPath:      !isActive && current.HasPrefix(c.Path),
		IsActive:    isActive,
		NewWindow:   c.Menu.NewWindow,
		Type:        c.Type,
		URL:         b.urls.URL(c.Path, opts.URLType),
		Children:    children,
	}
	if opts.ReturnContent {
		v := contentmap.New(c)
		it.Content = &v
	}
	return it, nil
}
