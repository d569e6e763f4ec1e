// Package tracker serialises file change handling for hot reload.
//
// Change notifications are pushed onto a queue drained by a single worker.
// Before a file is reloaded the worker waits until it can be opened, since
// editors may still hold a write lock right after a save. A path that is
// already queued is not queued again; a path that changes while it is being
// processed is processed once more afterwards.
package tracker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	viewerrors "github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/watcher"
)

// Defaults for the lock retry loop and queue.
const (
	DefaultLockRetryInterval = 100 * time.Millisecond
	DefaultLockRetryMax      = 10 * time.Second
	DefaultQueueSize         = 256
)

// ReloadFunc reloads path. removed is true when the file no longer exists.
type ReloadFunc func(ctx context.Context, path string, removed bool) error

// Options configures a Tracker.
type Options struct {
	LockRetryInterval time.Duration
	// LockRetryMax bounds the total time spent waiting for a locked file.
	LockRetryMax time.Duration
	QueueSize    int
	Logger       logging.Logger
}

// Stats counts tracker activity.
type Stats struct {
	Queued    int64 `json:"queued" yaml:"queued"`
	Coalesced int64 `json:"coalesced" yaml:"coalesced"`
	Reloaded  int64 `json:"reloaded" yaml:"reloaded"`
	Removed   int64 `json:"removed" yaml:"removed"`
	Failed    int64 `json:"failed" yaml:"failed"`
}

type pathState int

const (
	stateQueued pathState = iota
	stateRunning
	stateRerun
)

// Tracker owns the change queue and its worker.
type Tracker struct {
	reload ReloadFunc
	opts   Options
	logger logging.Logger

	queue chan string

	mu      sync.Mutex
	paths   map[string]pathState
	stopped bool
	started bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	queued    atomic.Int64
	coalesced atomic.Int64
	reloaded  atomic.Int64
	removed   atomic.Int64
	failed    atomic.Int64
}

// New creates a tracker calling reload for every change.
func New(reload ReloadFunc, opts Options) *Tracker {
	if opts.LockRetryInterval <= 0 {
		opts.LockRetryInterval = DefaultLockRetryInterval
	}
	if opts.LockRetryMax <= 0 {
		opts.LockRetryMax = DefaultLockRetryMax
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	return &Tracker{
		reload: reload,
		opts:   opts,
		logger: opts.Logger.WithComponent("tracker"),
		queue:  make(chan string, opts.QueueSize),
		paths:  make(map[string]pathState),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the worker. It returns when ctx is cancelled or Stop is
// called, after the in-flight reload finishes.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	go t.run(ctx)
}

// Stop stops accepting changes and waits for the in-flight reload.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		started := t.started
		t.mu.Unlock()

		close(t.stopCh)
		if started {
			<-t.done
		}
	})
}

// Enqueue schedules path for reload and reports whether it was queued.
func (t *Tracker) Enqueue(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return false
	}

	switch state, ok := t.paths[path]; {
	case ok && state == stateRunning:
		t.paths[path] = stateRerun
		t.coalesced.Add(1)
		return false
	case ok:
		t.coalesced.Add(1)
		return false
	}

	select {
	case t.queue <- path:
		t.paths[path] = stateQueued
		t.queued.Add(1)
		return true
	default:
		t.logger.Warn(context.Background(), nil, "change queue full, dropping event", "path", path)
		return false
	}
}

// HandleEvents is a watcher.ChangeHandler queueing every changed path.
func (t *Tracker) HandleEvents(events []watcher.ChangeEvent) error {
	for _, event := range events {
		t.Enqueue(event.Path)
	}
	return nil
}

// Stats returns a snapshot of the tracker counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Queued:    t.queued.Load(),
		Coalesced: t.coalesced.Load(),
		Reloaded:  t.reloaded.Load(),
		Removed:   t.removed.Load(),
		Failed:    t.failed.Load(),
	}
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case path := <-t.queue:
			t.mu.Lock()
			t.paths[path] = stateRunning
			t.mu.Unlock()

			t.process(ctx, path)

			t.mu.Lock()
			rerun := t.paths[path] == stateRerun
			delete(t.paths, path)
			t.mu.Unlock()

			if rerun {
				t.Enqueue(path)
			}
		}
	}
}

func (t *Tracker) process(ctx context.Context, path string) {
	removed := false
	if err := t.acquire(ctx, path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			t.failed.Add(1)
			t.logger.Error(ctx, viewerrors.WrapIO(err, viewerrors.ErrCodeFileLocked, "file stayed locked").WithFile(path),
				"giving up on change", "path", path)
			return
		}
		removed = true
	}

	if err := t.reload(ctx, path, removed); err != nil {
		t.failed.Add(1)
		t.logger.Error(ctx, err, "reload failed", "path", path, "removed", removed)
		return
	}

	if removed {
		t.removed.Add(1)
	} else {
		t.reloaded.Add(1)
	}
}

// acquire waits until path can be opened for reading. A missing file is
// returned at once as fs.ErrNotExist.
func (t *Tracker) acquire(ctx context.Context, path string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.LockRetryInterval
	b.MaxInterval = t.opts.LockRetryMax
	b.MaxElapsedTime = t.opts.LockRetryMax

	attempt := 0
	probe := func() error {
		attempt++
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return backoff.Permanent(err)
			}
			t.logger.Debug(ctx, "file not ready, retrying", "path", path, "attempt", attempt)
			return err
		}
		return f.Close()
	}

	return backoff.Retry(probe, backoff.WithContext(b, ctx))
}
