package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	config, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultRoot, config.Views.Root)
	assert.Equal(t, DefaultExtension, config.Views.Extension)
	assert.Equal(t, DefaultMaxDepth, config.Views.MaxDepth)
	assert.True(t, config.Views.StrictDirectives)
	assert.False(t, config.Views.Debug)
	assert.True(t, config.Render.Memoize)
	assert.Equal(t, DefaultAntiForgeryField, config.Render.AntiForgeryField)
	assert.Equal(t, DefaultTokenTTL, config.Render.TokenTTL)
	assert.True(t, config.Watch.Enabled)
	assert.Equal(t, DefaultDebounce, config.Watch.Debounce)
	assert.Equal(t, DefaultLockRetryMax, config.Watch.LockRetryMax)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "text", config.Log.Format)
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		expectError bool
		check       func(t *testing.T, config *Config)
	}{
		{
			name: "explicit values",
			setup: func() {
				viper.Set("views.root", "./app/Views")
				viper.Set("views.extension", "htm")
				viper.Set("views.strict_directives", false)
				viper.Set("views.max_depth", 8)
				viper.Set("watch.lock_retry_max", "2s")
				viper.Set("render.memoize", false)
			},
			check: func(t *testing.T, config *Config) {
				assert.Equal(t, "./app/Views", config.Views.Root)
				assert.Equal(t, ".htm", config.Views.Extension)
				assert.False(t, config.Views.StrictDirectives)
				assert.Equal(t, 8, config.Views.MaxDepth)
				assert.Equal(t, 2*time.Second, config.Watch.LockRetryMax)
				assert.False(t, config.Render.Memoize)
			},
		},
		{
			name: "log level from persistent flag",
			setup: func() {
				viper.Set("log-level", "debug")
			},
			check: func(t *testing.T, config *Config) {
				assert.Equal(t, "debug", config.Log.Level)
			},
		},
		{
			name: "partitions only leaves root empty",
			setup: func() {
				viper.Set("views.partitions", []map[string]interface{}{
					{"name": "Admin", "path": "./Admin"},
				})
			},
			check: func(t *testing.T, config *Config) {
				assert.Empty(t, config.Views.Root)
				assert.Equal(t, []ViewRoot{{Path: "./Admin", Partition: "Admin"}}, config.Roots())
			},
		},
		{
			name: "negative depth rejected",
			setup: func() {
				viper.Set("views.max_depth", -1)
			},
			expectError: true,
		},
		{
			name: "retry max shorter than interval rejected",
			setup: func() {
				viper.Set("watch.lock_retry_interval", "5s")
				viper.Set("watch.lock_retry_max", "1s")
			},
			expectError: true,
		},
		{
			name: "bad partition name rejected",
			setup: func() {
				viper.Set("views.partitions", []map[string]interface{}{
					{"name": "a/b", "path": "./x"},
				})
			},
			expectError: true,
		},
		{
			name: "duplicate partition rejected",
			setup: func() {
				viper.Set("views.partitions", []map[string]interface{}{
					{"name": "Admin", "path": "./a"},
					{"name": "Admin", "path": "./b"},
				})
			},
			expectError: true,
		},
		{
			name: "unsupported log format rejected",
			setup: func() {
				viper.Set("log.format", "xml")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			tt.setup()

			config, err := Load()
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, config)
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), ".vellum.yml")
	content := `views:
  root: ./Views
  partitions:
    - name: Blog
      path: ./Partitions/Blog
    - name: Admin
      path: ./Partitions/Admin
  debug: true
watch:
  debounce: 250ms
bundles:
  manifest: ./bundles.yml
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	config, err := Load()
	require.NoError(t, err)

	assert.True(t, config.Views.Debug)
	assert.Equal(t, 250*time.Millisecond, config.Watch.Debounce)
	assert.Equal(t, "./bundles.yml", config.Bundles.Manifest)

	roots := config.Roots()
	require.Len(t, roots, 3)
	assert.Equal(t, ViewRoot{Path: "./Views"}, roots[0])
	assert.Equal(t, ViewRoot{Path: "./Partitions/Admin", Partition: "Admin"}, roots[1])
	assert.Equal(t, ViewRoot{Path: "./Partitions/Blog", Partition: "Blog"}, roots[2])
}
