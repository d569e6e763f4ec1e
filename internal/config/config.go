// Package config provides configuration management for the view engine
// using Viper for loading from files, environment variables, and
// command-line flags.
//
// The configuration covers the view roots (global and per partition), the
// directive processor limits, render options, hot-reload tuning, the bundle
// manifest location and logging. Values are validated after defaults are
// applied.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Views   ViewsConfig   `mapstructure:"views" yaml:"views"`
	Render  RenderConfig  `mapstructure:"render" yaml:"render"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Bundles BundlesConfig `mapstructure:"bundles" yaml:"bundles"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type ViewsConfig struct {
	// Root is the global view root
	Root string `mapstructure:"root" yaml:"root"`
	// Partitions lists the partition view roots. A list rather than a map
	// because viper lower-cases map keys and partition names are part of
	// template names.
	Partitions       []PartitionConfig `mapstructure:"partitions" yaml:"partitions"`
	Extension        string            `mapstructure:"extension" yaml:"extension"`
	Debug            bool              `mapstructure:"debug" yaml:"debug"`
	StrictDirectives bool              `mapstructure:"strict_directives" yaml:"strict_directives"`
	MaxDepth         int               `mapstructure:"max_depth" yaml:"max_depth"`
}

type PartitionConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Path string `mapstructure:"path" yaml:"path"`
}

type RenderConfig struct {
	Memoize          bool          `mapstructure:"memoize" yaml:"memoize"`
	AntiForgeryField string        `mapstructure:"antiforgery_field" yaml:"antiforgery_field"`
	TokenTTL         time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

type WatchConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Debounce          time.Duration `mapstructure:"debounce" yaml:"debounce"`
	LockRetryInterval time.Duration `mapstructure:"lock_retry_interval" yaml:"lock_retry_interval"`
	LockRetryMax      time.Duration `mapstructure:"lock_retry_max" yaml:"lock_retry_max"`
}

type BundlesConfig struct {
	Manifest string `mapstructure:"manifest" yaml:"manifest"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ViewRoot is one directory templates are loaded from. Partition is empty
// for the global root.
type ViewRoot struct {
	Path      string
	Partition string
}

// Roots returns the global root followed by the partition roots ordered by
// partition name.
func (c *Config) Roots() []ViewRoot {
	roots := make([]ViewRoot, 0, len(c.Views.Partitions)+1)
	if c.Views.Root != "" {
		roots = append(roots, ViewRoot{Path: c.Views.Root})
	}

	partitions := make([]PartitionConfig, len(c.Views.Partitions))
	copy(partitions, c.Views.Partitions)
	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].Name < partitions[j].Name
	})

	for _, p := range partitions {
		roots = append(roots, ViewRoot{Path: p.Path, Partition: p.Name})
	}
	return roots
}

// Default values.
const (
	DefaultRoot              = "./Views"
	DefaultExtension         = ".html"
	DefaultMaxDepth          = 32
	DefaultAntiForgeryField  = "AntiForgeryToken"
	DefaultTokenTTL          = time.Hour
	DefaultDebounce          = 100 * time.Millisecond
	DefaultLockRetryInterval = 100 * time.Millisecond
	DefaultLockRetryMax      = 10 * time.Second
)

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Apply default values for ViewsConfig if not set
	if config.Views.Root == "" && len(config.Views.Partitions) == 0 {
		config.Views.Root = DefaultRoot
	}
	if config.Views.Extension == "" {
		config.Views.Extension = DefaultExtension
	}
	if !strings.HasPrefix(config.Views.Extension, ".") {
		config.Views.Extension = "." + config.Views.Extension
	}
	if config.Views.MaxDepth == 0 {
		config.Views.MaxDepth = DefaultMaxDepth
	}
	if !viper.IsSet("views.strict_directives") {
		config.Views.StrictDirectives = true
	}

	// Apply default values for RenderConfig if not set
	if config.Render.AntiForgeryField == "" {
		config.Render.AntiForgeryField = DefaultAntiForgeryField
	}
	if config.Render.TokenTTL == 0 {
		config.Render.TokenTTL = DefaultTokenTTL
	}
	if !viper.IsSet("render.memoize") {
		config.Render.Memoize = true
	}

	// Apply default values for WatchConfig if not set
	if !viper.IsSet("watch.enabled") {
		config.Watch.Enabled = true
	}
	if config.Watch.Debounce == 0 {
		config.Watch.Debounce = DefaultDebounce
	}
	if config.Watch.LockRetryInterval == 0 {
		config.Watch.LockRetryInterval = DefaultLockRetryInterval
	}
	if config.Watch.LockRetryMax == 0 {
		config.Watch.LockRetryMax = DefaultLockRetryMax
	}

	// Apply default values for LogConfig if not set
	if config.Log.Level == "" {
		config.Log.Level = viper.GetString("log-level")
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	// Validate configuration values
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateViewsConfig(&config.Views); err != nil {
		return fmt.Errorf("views config: %w", err)
	}

	if err := validateWatchConfig(&config.Watch); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log config: unsupported format %q", config.Log.Format)
	}

	return nil
}

func validateViewsConfig(config *ViewsConfig) error {
	if config.Root != "" {
		if err := validatePath(config.Root); err != nil {
			return fmt.Errorf("invalid root '%s': %w", config.Root, err)
		}
	}

	seen := make(map[string]bool, len(config.Partitions))
	for _, p := range config.Partitions {
		if p.Name == "" || strings.ContainsAny(p.Name, `/\`) {
			return fmt.Errorf("invalid partition name %q", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate partition %q", p.Name)
		}
		seen[p.Name] = true
		if err := validatePath(p.Path); err != nil {
			return fmt.Errorf("invalid root for partition '%s': %w", p.Name, err)
		}
	}

	if config.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be positive, got %d", config.MaxDepth)
	}

	return nil
}

func validateWatchConfig(config *WatchConfig) error {
	if config.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}
	if config.LockRetryInterval < 0 || config.LockRetryMax < 0 {
		return fmt.Errorf("lock retry durations must not be negative")
	}
	if config.LockRetryMax < config.LockRetryInterval {
		return fmt.Errorf("lock_retry_max %s is shorter than lock_retry_interval %s",
			config.LockRetryMax, config.LockRetryInterval)
	}

	return nil
}

// validatePath validates a view root path
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	// Reject dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
