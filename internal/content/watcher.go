package content

import (
	"context"
	"time"

	"github.com/keithlinneman/linnemanlabs-menu/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

const (
	// DefaultPollInterval is how often the watcher asks SSM which document is published.
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps the poll delay after repeated SSM failures.
	maxBackoff = 5 * time.Minute

	defaultStaleThreshold = 30 * time.Minute
)

type pollResult int

const (
	pollNoChange        pollResult = iota // published hash is the active tree
	pollSwapped                           // new document decoded and made active
	pollSSMError                          // hash lookup failed, back off
	pollLoadError                         // fetch, checksum, signature or decode failed
	pollValidationError                   // decoded tree rejected by ValidateSnapshot
)

// DocumentFetcher is the part of *Loader the Watcher uses.
type DocumentFetcher interface {
	FetchCurrentHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Snapshot, error)
}

// WatcherMetrics is implemented by *metrics.ServerMetrics.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	ObserveDocumentLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type WatcherOptions struct {
	Logger       log.Logger
	Loader       DocumentFetcher
	Manager      *Manager
	PollInterval time.Duration

	// Validation gates every new item tree before it becomes active.
	// Nil uses DefaultValidationOptions().
	Validation *ValidationOptions

	// OnSwap runs on the poll goroutine after each swap, e.g. to mirror
	// the tree into a persistent store.
	OnSwap func(hash, version string)

	Metrics WatcherMetrics

	// StaleThreshold is how long SSM may keep failing before the content is
	// reported stale. Zero means 30 minutes.
	StaleThreshold time.Duration
}

// Watcher follows the SSM parameter naming the published content document
// and swaps in the decoded item tree whenever the hash changes.
type Watcher struct {
	swapper

	loader   DocumentFetcher
	interval time.Duration

	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	staleLogged    bool

	pollCount int64
}

// NewWatcher builds a Watcher. Call Run to start polling.
func NewWatcher(opts *WatcherOptions) *Watcher {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	stale := opts.StaleThreshold
	if stale <= 0 {
		stale = defaultStaleThreshold
	}
	return &Watcher{
		swapper:        newSwapper(opts.Manager, opts.Logger, opts.Validation, opts.OnSwap, opts.Metrics),
		loader:         opts.Loader,
		interval:       interval,
		staleThreshold: stale,
		lastSuccessAt:  time.Now(),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "content watcher starting",
		"poll_interval", w.interval.String(),
		"current_hash", truncHash(w.currentHash),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "content watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			result := w.checkOnce(ctx)
			if next, changed := w.nextDelay(ctx, result); changed {
				ticker.Reset(next)
			}
			w.trackStaleness(ctx, result)
		}
	}
}

// nextDelay applies backoff after SSM failures and restores the normal
// interval once a poll gets through.
func (w *Watcher) nextDelay(ctx context.Context, result pollResult) (time.Duration, bool) {
	if result == pollSSMError {
		w.consecutiveErrs++
		d := w.backoffDuration()
		w.logger.Warn(ctx, "content watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", d.String(),
		)
		return d, true
	}
	if w.consecutiveErrs == 0 {
		return 0, false
	}
	w.logger.Info(ctx, "content watcher: recovered, resuming normal interval",
		"had_consecutive_errors", w.consecutiveErrs,
	)
	w.consecutiveErrs = 0
	return w.interval, true
}

// trackStaleness logs once on entering and once on leaving the stale state.
func (w *Watcher) trackStaleness(ctx context.Context, result pollResult) {
	if result != pollSSMError {
		if w.staleLogged {
			w.logger.Info(ctx, "content watcher: staleness recovered")
			w.setStale(false)
		}
		return
	}
	since := time.Since(w.lastSuccessAt)
	if since <= w.staleThreshold || w.staleLogged {
		return
	}
	w.logger.Error(ctx, xerrors.Newf("last successful SSM poll was %s ago", since.Truncate(time.Second)),
		"content watcher: serving a tree that may no longer be the published one",
	)
	w.setStale(true)
}

func (w *Watcher) setStale(stale bool) {
	w.staleLogged = stale
	if w.metrics != nil {
		w.metrics.SetWatcherStale(stale)
	}
}

// checkOnce runs one lookup, fetch and swap cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	hash, err := w.loader.FetchCurrentHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "content watcher: SSM poll failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("ssm")
		}
		return pollSSMError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "content watcher: new document published",
		"old_hash", truncHash(w.currentHash),
		"new_hash", truncHash(hash),
	)

	start := time.Now()
	snap, err := w.loader.LoadHash(ctx, hash)
	if w.metrics != nil {
		w.metrics.ObserveDocumentLoadDuration(time.Since(start).Seconds())
	}
	if err != nil {
		w.logger.Error(ctx, err, "content watcher: failed to load document",
			"hash", truncHash(hash),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("load")
		}
		return pollLoadError
	}

	if err := w.install(ctx, "content watcher", snap); err != nil {
		return pollValidationError
	}
	return pollSwapped
}

// backoffDuration doubles the interval per consecutive failure, capped at maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := w.interval
	for i := 0; i < w.consecutiveErrs && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}
