package menu

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-menu/internal/content"
	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
)

type BreadcrumbOptions struct {
	// LinkActiveItem adds a URL to the current item.
	LinkActiveItem bool
	// HideHomepage drops the leading site item.
	HideHomepage bool
	// HomepageTitle replaces the site display name.
	HomepageTitle string
	// DividerHTML is passed through for templates to place between items.
	DividerHTML string
	URLType     URLType
	// AriaLabel defaults to "breadcrumbs".
	AriaLabel string
}

type Crumb struct {
	Title  string `json:"title"`
	Text   string `json:"text"`
	URL    string `json:"url,omitempty"`
	Active bool   `json:"active"`
	Type   string `json:"type"`
}

type Breadcrumb struct {
	Divider   string  `json:"divider,omitempty"`
	AriaLabel string  `json:"ariaLabel"`
	Items     []Crumb `json:"items"`
}

// Breadcrumbs lists the site followed by every existing ancestor of current
// below the site, ending with current itself. Missing ancestors are skipped.
func (b *Builder) Breadcrumbs(ctx context.Context, site content.Item, current content.Item, opts BreadcrumbOptions) (Breadcrumb, error) {
	bc := Breadcrumb{
		Divider:   opts.DividerHTML,
		AriaLabel: opts.AriaLabel,
		Items:     []Crumb{},
	}
	if bc.AriaLabel == "" {
		bc.AriaLabel = "breadcrumbs"
	}

	if !opts.HideHomepage {
		title := opts.HomepageTitle
		if title == "" {
			title = site.DisplayName
		}
		bc.Items = append(bc.Items, Crumb{
			Title:  title,
			Text:   title,
			URL:    b.urls.URL(site.Path, opts.URLType),
			Active: current.Path.Equal(site.Path),
			Type:   site.Type,
		})
	}

	if current.Path.Equal(site.Path) {
		return bc, nil
	}

	start := 1
	if current.Path.HasPrefix(site.Path) {
		start = site.Path.ElementCount() + 1
	}
	for n := start; n <= current.Path.ElementCount(); n++ {
		p := current.Path.Prefix(n)
		it, ok, err := b.lookup(ctx, p, current)
		if err != nil {
			return Breadcrumb{}, err
		}
		if !ok {
			continue
		}

		crumb := Crumb{
			Title: it.DisplayName,
			Text:  it.DisplayName,
			Type:  it.Type,
		}
		url := b.urls.URL(it.Path, opts.URLType)
		if it.Path.Equal(current.Path) {
			crumb.Active = true
			if opts.LinkActiveItem {
				crumb.URL = url
			}
		} else {
			crumb.URL = url
		}
		bc.Items = append(bc.Items, crumb)
	}
	return bc, nil
}

func (b *Builder) lookup(ctx context.Context, p contentpath.Path, current content.Item) (content.Item, bool, error) {
	if p.Equal(current.Path) {
		return current, true, nil
	}
	ok, err := b.store.Exists(ctx, p)
	if err != nil || !ok {
		return content.Item{}, false, err
	}
	it, err := b.store.GetByPath(ctx, p)
	if err != nil {
		return content.Item{}, false, err
	}
	return it, true, nil
}
