package content

import (
	"errors"
	"time"

	"github.com/keithlinneman/linnemanlabs-menu/internal/contentpath"
)

var (
	// ErrNotFound is returned by stores when no item exists at a path.
	ErrNotFound = errors.New("content: not found")

	// ErrNoSnapshot is returned when no content has been loaded.
	ErrNoSnapshot = errors.New("content: no active snapshot")
)

// TypeSite marks the item that roots a site. A site that is itself a menu
// item is listed first in its own menu.
const TypeSite = "portal:site"

// MenuSettings controls how an item appears in generated menus.
type MenuSettings struct {
	MenuItem  bool   `json:"menuItem,omitempty"`
	MenuName  string `json:"menuName,omitempty"`
	NewWindow bool   `json:"newWindow,omitempty"`
}

// Item is a single piece of content addressed by its path.
type Item struct {
	ID           string           `json:"id"`
	Path         contentpath.Path `json:"path"`
	DisplayName  string           `json:"displayName,omitempty"`
	Type         string           `json:"type,omitempty"`
	Data         map[string]any   `json:"data,omitempty"`
	Menu         MenuSettings     `json:"menu,omitzero"`
	ChildOrder   string           `json:"childOrder,omitempty"`
	ModifiedTime time.Time        `json:"modifiedTime,omitzero"`
}

// Name is the last path segment.
func (i Item) Name() string { return i.Path.Name() }

// MenuTitle is the label used when the item is rendered in a menu.
func (i Item) MenuTitle() string {
	if i.Menu.MenuName != "" {
		return i.Menu.MenuName
	}
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Name()
}
