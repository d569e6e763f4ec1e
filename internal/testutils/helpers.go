// Package testutils holds helpers shared by package tests that need view
// roots on disk.
package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/vellum/internal/config"
)

// CreateViewTree creates a temporary view root holding files, keyed by
// slash-separated path relative to the root.
func CreateViewTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	WriteViews(t, root, files)
	return root
}

// WriteViews writes files under root, creating folders as needed, and
// returns the absolute path of each file keyed like files.
func WriteViews(t *testing.T, root string, files map[string]string) map[string]string {
	t.Helper()
	paths := make(map[string]string, len(files))
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		paths[name] = path
	}
	return paths
}

// CreateTestConfig returns a configuration with every default applied and
// root as the global view root.
func CreateTestConfig(root string) *config.Config {
	return &config.Config{
		Views: config.ViewsConfig{
			Root:             root,
			Extension:        config.DefaultExtension,
			StrictDirectives: true,
			MaxDepth:         config.DefaultMaxDepth,
		},
		Render: config.RenderConfig{
			Memoize:          true,
			AntiForgeryField: config.DefaultAntiForgeryField,
			TokenTTL:         config.DefaultTokenTTL,
		},
		Watch: config.WatchConfig{
			Enabled:           true,
			Debounce:          config.DefaultDebounce,
			LockRetryInterval: config.DefaultLockRetryInterval,
			LockRetryMax:      config.DefaultLockRetryMax,
		},
		Log: config.LogConfig{Level: "error", Format: "text"},
	}
}

// AssertFileContent checks the content of the file at path.
func AssertFileContent(t *testing.T, path, expected string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, expected, string(data), "unexpected content in %s", path)
}
