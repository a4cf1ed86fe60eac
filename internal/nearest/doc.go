// Package nearest finds the content that best answers a request path: the
// content at the path itself, or else the deepest ancestor reachable from the
// root through an unbroken chain of existing ancestors.
//
// The walk stops at the first missing segment. Content that exists below a
// missing parent is never returned for a deeper request.
package nearest
