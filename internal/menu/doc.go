// Package menu builds navigation structures (breadcrumbs, submenus and full
// menu trees) from a content store.
package menu
