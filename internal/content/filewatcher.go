package content

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keithlinneman/linnemanlabs-menu/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
	"github.com/keithlinneman/linnemanlabs-menu/internal/xerrors"
)

// DefaultDebounce collapses the burst of events editors emit for a single save.
const DefaultDebounce = 250 * time.Millisecond

type FileWatcherOptions struct {
	Logger     log.Logger
	Path       string
	Manager    *Manager
	Debounce   time.Duration
	Validation *ValidationOptions
	OnSwap     func(hash, version string)
	Metrics    WatcherMetrics
}

// FileWatcher reloads a local content document when it changes on disk.
type FileWatcher struct {
	swapper

	path     string
	debounce time.Duration
}

func NewFileWatcher(opts FileWatcherOptions) (*FileWatcher, error) {
	if opts.Path == "" {
		return nil, xerrors.New("Path is required")
	}
	if opts.Manager == nil {
		return nil, xerrors.New("Manager is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "resolve %s", opts.Path)
	}

	return &FileWatcher{
		swapper:  newSwapper(opts.Manager, opts.Logger, opts.Validation, opts.OnSwap, opts.Metrics),
		path:     abs,
		debounce: opts.Debounce,
	}, nil
}

// Run watches the document's directory (so atomic rename-on-save is seen) until
// ctx is cancelled.
func (fw *FileWatcher) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Wrap(err, "create fsnotify watcher")
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(fw.path)); err != nil {
		return xerrors.Wrapf(err, "watch %s", filepath.Dir(fw.path))
	}

	fw.logger.Info(ctx, "content file watcher starting",
		"path", fw.path,
		"debounce", fw.debounce.String(),
	)

	timer := time.NewTimer(fw.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			fw.logger.Info(ctx, "content file watcher stopping", "reason", ctx.Err())
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if fw.relevant(ev) {
				timer.Reset(fw.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fw.logger.Error(ctx, err, "content file watcher: fsnotify error")
			if fw.metrics != nil {
				fw.metrics.IncWatcherError("fsnotify")
			}
		case <-timer.C:
			fw.reload(ctx)
		}
	}
}

func (fw *FileWatcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != fw.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// reload loads, validates and swaps the document. Returns whether a swap happened.
func (fw *FileWatcher) reload(ctx context.Context) bool {
	if fw.metrics != nil {
		fw.metrics.IncWatcherPolls()
	}

	start := time.Now()
	snap, err := LoadFile(fw.path)
	if fw.metrics != nil {
		fw.metrics.ObserveDocumentLoadDuration(time.Since(start).Seconds())
	}
	if err != nil {
		fw.logger.Error(ctx, err, "content file watcher: failed to load document, keeping current content",
			"path", fw.path,
		)
		if fw.metrics != nil {
			fw.metrics.IncWatcherError("load")
		}
		return false
	}

	if cryptoutil.HashEqual(snap.Meta.Hash, fw.currentHash) {
		return false
	}

	if err := fw.install(ctx, "content file watcher", snap); err != nil {
		return false
	}
	if fw.metrics != nil {
		fw.metrics.SetWatcherLastSuccess(float64(time.Now().Unix()))
	}
	return true
}
