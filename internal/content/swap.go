package content

import (
	"context"

	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

// swapper validates a freshly decoded snapshot and makes it the active
// tree. Both watchers embed one.
type swapper struct {
	manager    *Manager
	logger     log.Logger
	validation ValidationOptions
	onSwap     func(hash, version string)
	metrics    WatcherMetrics

	currentHash string
	swapCount   int64
}

func newSwapper(mgr *Manager, logger log.Logger, validation *ValidationOptions, onSwap func(hash, version string), m WatcherMetrics) swapper {
	if logger == nil {
		logger = log.Nop()
	}
	v := DefaultValidationOptions()
	if validation != nil {
		v = *validation
	}
	s := swapper{
		manager:    mgr,
		logger:     logger,
		validation: v,
		onSwap:     onSwap,
		metrics:    m,
	}
	// the tree loaded at startup counts as current, so the first poll
	// does not reload it
	if mgr != nil {
		if snap, ok := mgr.Get(); ok {
			s.currentHash = snap.Meta.Hash
		}
	}
	return s
}

// install swaps snap in unless it fails validation, in which case the
// current tree stays active and the validation error is returned.
func (s *swapper) install(ctx context.Context, component string, snap *Snapshot) error {
	if err := ValidateSnapshot(snap, s.validation); err != nil {
		s.logger.Error(ctx, err, component+": snapshot failed validation, keeping current content",
			"rejected_hash", truncHash(snap.Meta.Hash),
			"current_hash", truncHash(s.currentHash),
		)
		if s.metrics != nil {
			s.metrics.IncWatcherError("validation")
		}
		return err
	}

	old := s.currentHash
	s.manager.Set(*snap)
	s.currentHash = snap.Meta.Hash
	s.swapCount++
	if s.metrics != nil {
		s.metrics.IncWatcherSwaps()
	}

	s.logger.Info(ctx, component+": snapshot swapped",
		"old_hash", truncHash(old),
		"new_hash", truncHash(snap.Meta.Hash),
		"version", snap.Meta.Version,
		"site", snap.Site.String(),
		"items", snap.Tree.Len(),
		"total_swaps", s.swapCount,
	)

	s.notify(ctx, snap.Meta.Hash, snap.Meta.Version)
	return nil
}

// notify runs OnSwap. A panicking callback is logged and swallowed so the
// watcher loop keeps running.
func (s *swapper) notify(ctx context.Context, hash, version string) {
	if s.onSwap == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, xerrors.Newf("OnSwap panic: %v", r),
				"content swap callback panicked, continuing",
				"hash", truncHash(hash),
			)
		}
	}()
	s.onSwap(hash, version)
}

// truncHash shortens a hash for log lines.
func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
