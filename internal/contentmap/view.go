// Package contentmap turns content items into the JSON shape served to clients.
package contentmap

import (
	"time"

	"github.com/keithlinneman/linnemanlabs-menu/internal/content"
)

// View is the client-facing form of a content item. It is derived entirely
// from the item and holds no state of its own.
type View struct {
	ID           string         `json:"_id"`
	Name         string         `json:"_name"`
	Path         string         `json:"_path"`
	DisplayName  string         `json:"displayName"`
	Type         string         `json:"type"`
	ChildOrder   string         `json:"childOrder,omitempty"`
	ModifiedTime *time.Time     `json:"modifiedTime,omitempty"`
	Data         map[string]any `json:"data"`
	X            map[string]any `json:"x"`
}

// MenuItemKey is the extension key under X describing menu settings.
const MenuItemKey = "menu-item"

func New(item content.Item) View {
	v := View{
		ID:          item.ID,
		Name:        item.Name(),
		Path:        item.Path.String(),
		DisplayName: item.DisplayName,
		Type:        item.Type,
		ChildOrder:  item.ChildOrder,
		Data:        item.Data,
		X:           map[string]any{},
	}
	if v.Data == nil {
		v.Data = map[string]any{}
	}
	if !item.ModifiedTime.IsZero() {
		mt := item.ModifiedTime
		v.ModifiedTime = &mt
	}
	if item.Menu.MenuItem {
		mi := map[string]any{"menuItem": true}
		if item.Menu.MenuName != "" {
			mi["menuName"] = item.Menu.MenuName
		}
		if item.Menu.NewWindow {
			mi["newWindow"] = true
		}
		v.X[MenuItemKey] = mi
	}
	return v
}

// Map converts a resolver result. ok is false when found is false.
func Map(item content.Item, found bool) (View, bool) {
	if !found {
		return View{}, false
	}
	return New(item), true
}
