// internal/content/validate.go
//

package content

import (
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

// ValidationOptions controls which checks ValidateSnapshot performs.
type ValidationOptions struct {
	// MinItems rejects trees with fewer than this many items.
	// 0 disables the check.
	MinItems int

	// RequireSite fails validation when the snapshot's site path has no item.
	RequireSite bool
}

// DefaultValidationOptions returns the recommended production defaults.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MinItems:    1,
		RequireSite: true,
	}
}

// ValidateSnapshot performs sanity checks on a snapshot before it is swapped
// into the active Manager. Used by the watchers to avoid serving broken or
// empty content.
// Returns nil if all checks pass, or an error describing the first failure.
func ValidateSnapshot(snap *Snapshot, opts ValidationOptions) error {
	if snap == nil {
		return xerrors.New("validate: snapshot is nil")
	}

	if snap.Tree == nil {
		return xerrors.New("validate: snapshot has nil tree")
	}

	if opts.RequireSite && !snap.Tree.Has(snap.Site) {
		return xerrors.Newf("validate: site %s has no content item", snap.Site)
	}

	if opts.MinItems > 0 && snap.Tree.Len() < opts.MinItems {
		return xerrors.Newf("validate: tree has %d items, minimum is %d", snap.Tree.Len(), opts.MinItems)
	}

	return nil
}
