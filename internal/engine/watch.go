package engine

import (
	"context"

	viewerrors "github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/tracker"
	"github.com/conneroisu/vellum/internal/watcher"
)

// ChangeFunc is called after a changed file has been processed. result is
// nil when the reload failed before touching the template set.
type ChangeFunc func(path string, result *ReloadResult, err error)

// Watch starts hot reload for the roots of the last LoadAll. Changes are
// queued and processed one at a time; onChange, when set, is called after
// each one. Failures are logged and never stop the watch.
func (e *Engine) Watch(ctx context.Context, onChange ChangeFunc) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	if e.fileWatcher != nil {
		return viewerrors.NewValidationError(viewerrors.ErrCodeValidationFailed, "engine is already watching")
	}

	roots := e.loader.Roots()
	if len(roots) == 0 {
		return viewerrors.NewValidationError(viewerrors.ErrCodeValidationFailed, "no view roots loaded, call LoadAll first")
	}

	fw, err := watcher.NewFileWatcher(e.opts.Debounce, e.opts.Logger)
	if err != nil {
		return err
	}
	for _, root := range roots {
		if err := fw.AddRecursive(root.Path); err != nil {
			_ = fw.Stop()
			return err
		}
	}
	fw.AddFilter(watcher.ExtensionFilter(e.loader.Extension()))
	fw.AddFilter(watcher.NoEditorTempFilter)
	fw.AddFilter(e.loader.Owns)

	tr := tracker.New(func(ctx context.Context, path string, _ bool) error {
		result, err := e.Reload(ctx, path)
		if onChange != nil {
			onChange(path, result, err)
		}
		return err
	}, tracker.Options{
		LockRetryInterval: e.opts.LockRetryInterval,
		LockRetryMax:      e.opts.LockRetryMax,
		Logger:            e.opts.Logger,
	})
	fw.AddHandler(tr.HandleEvents)

	watchCtx, cancel := context.WithCancel(ctx)
	tr.Start(watchCtx)
	if err := fw.Start(watchCtx); err != nil {
		cancel()
		tr.Stop()
		_ = fw.Stop()
		return err
	}

	e.fileWatcher = fw
	e.tracker = tr
	e.cancelWatch = cancel

	e.logger.Info(ctx, "watching view roots", "roots", len(roots), "directories", len(fw.WatchList()))
	return nil
}

// TrackerStats returns the hot-reload counters, zero when not watching.
func (e *Engine) TrackerStats() tracker.Stats {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	if e.tracker == nil {
		return tracker.Stats{}
	}
	return e.tracker.Stats()
}

// Close stops watching. An in-flight reload is allowed to finish.
func (e *Engine) Close() error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	if e.fileWatcher == nil {
		return nil
	}

	e.tracker.Stop()
	err := e.fileWatcher.Stop()
	e.cancelWatch()

	e.fileWatcher = nil
	e.tracker = nil
	e.cancelWatch = nil

	if err != nil {
		return viewerrors.WrapIO(err, viewerrors.ErrCodeIO, "stopping file watcher")
	}
	return nil
}
