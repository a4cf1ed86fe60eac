// Package pathutil holds the path safety checks shared by request parsing and
// content document loading.
package pathutil

import (
	"errors"
	"strings"
)

var (
	ErrDotSegment   = errors.New("path contains . or .. segment")
	ErrNulByte      = errors.New("path contains NUL byte")
	ErrBackslash    = errors.New("path contains backslash")
	ErrControlChars = errors.New("path contains control characters")
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CheckSafe rejects paths that are ambiguous to split on "/".
func CheckSafe(p string) error {
	switch {
	case strings.ContainsRune(p, 0):
		return ErrNulByte
	case strings.ContainsRune(p, '\\'):
		return ErrBackslash
	case HasDotSegments(p):
		return ErrDotSegment
	}
	for _, r := range p {
		if r < 0x20 || r == 0x7f {
			return ErrControlChars
		}
	}
	return nil
}
