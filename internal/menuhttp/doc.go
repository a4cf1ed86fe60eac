// Package menuhttp serves nearest content, breadcrumbs and menus as JSON.
//
// Every route takes a content path after its prefix, for example
// GET /api/menu/breadcrumbs/linnemanlabs/projects/menu. The path does not
// have to exist; responses are built for its nearest existing ancestor.
package menuhttp
