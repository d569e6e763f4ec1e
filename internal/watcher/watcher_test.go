package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)

	watcher.AddFilter(ExtensionFilter(".html"))
	watcher.AddHandler(func([]ChangeEvent) error { return nil })
	assert.Len(t, watcher.filters, 1)
	assert.Len(t, watcher.handlers, 1)
}

func TestFilters(t *testing.T) {
	html := ExtensionFilter("html")
	assert.True(t, html("/views/Home/Index.html"))
	assert.True(t, html("/views/Home/Index.HTML"))
	assert.False(t, html("/views/Home/Index.htm"))
	assert.False(t, html("/views/Home/Index.html.swp"))

	assert.True(t, NoEditorTempFilter("/views/Home/Index.html"))
	assert.False(t, NoEditorTempFilter("/views/Home/.Index.html"))
	assert.False(t, NoEditorTempFilter("/views/Home/Index.html~"))
}

func TestAddRecursive(t *testing.T) {
	watcher, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Home", "Shared"), 0o755))

	require.NoError(t, watcher.AddRecursive(root))
	assert.Len(t, watcher.WatchList(), 3)

	err = watcher.AddRecursive(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestDebouncerDeduplicates(t *testing.T) {
	d := &Debouncer{
		delay:  10 * time.Millisecond,
		events: make(chan ChangeEvent, 10),
		output: make(chan []ChangeEvent, 1),
	}

	d.addEvent(ChangeEvent{Type: EventTypeCreated, Path: "b.html"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "a.html"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "b.html"})

	select {
	case events := <-d.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.html", events[0].Path)
		assert.Equal(t, "b.html", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer did not flush")
	}
}

func TestFileWatcherDeliversChanges(t *testing.T) {
	watcher, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	root := t.TempDir()
	require.NoError(t, watcher.AddRecursive(root))
	watcher.AddFilter(ExtensionFilter(".html"))

	var mu sync.Mutex
	var received []ChangeEvent
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, events...)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	target := filepath.Join(root, "Index.html")
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("<p>x</p>"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, event := range received {
		assert.Equal(t, target, event.Path)
	}
}

func TestFileWatcherReportsFilesInNewDirectories(t *testing.T) {
	watcher, err := NewFileWatcher(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	root := t.TempDir()
	require.NoError(t, watcher.AddRecursive(root))
	watcher.AddFilter(ExtensionFilter(".html"))

	var mu sync.Mutex
	seen := make(map[string]bool)
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, event := range events {
			seen[event.Path] = true
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	nested := filepath.Join(root, "About", "Shared")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	target := filepath.Join(nested, "Nav.html")
	require.NoError(t, os.WriteFile(target, []byte("<nav/>"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[target]
	}, 3*time.Second, 20*time.Millisecond)

	assert.Contains(t, watcher.WatchList(), nested)
}
