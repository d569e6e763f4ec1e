// Package bundle resolves named asset bundles to include tags.
//
// Bundles are declared in a YAML manifest:
//
//	bundles:
//	  site:
//	    output: /assets/site
//	    files:
//	      - /css/reset.css
//	      - /js/app.js
//
// In debug mode every file gets its own tag; otherwise one combined tag
// per asset type points at output plus the extension.
package bundle

import (
	"errors"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	viewerrors "github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/validation"
)

// Bundle is one named group of asset files.
type Bundle struct {
	// Output is the combined asset path without extension. Defaults to
	// /bundles/<name>.
	Output string   `yaml:"output"`
	Files  []string `yaml:"files"`
}

// Manifest is the on-disk bundle declaration.
type Manifest struct {
	Bundles map[string]Bundle `yaml:"bundles"`
}

// Registry holds the known bundles.
type Registry struct {
	bundles map[string]Bundle
	mutex   sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bundles: make(map[string]Bundle)}
}

// Load reads a YAML manifest from path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, viewerrors.WrapIO(err, viewerrors.ErrCodeIO, "reading bundle manifest").WithFile(path)
	}
	r, err := Parse(data)
	if err != nil {
		var ve *viewerrors.ViewError
		if errors.As(err, &ve) {
			return nil, ve.WithFile(path)
		}
		return nil, err
	}
	return r, nil
}

// Parse builds a registry from manifest YAML.
func Parse(data []byte) (*Registry, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, viewerrors.WrapConfig(err, viewerrors.ErrCodeConfigInvalid, "invalid bundle manifest")
	}

	r := NewRegistry()
	for name, b := range manifest.Bundles {
		if strings.TrimSpace(name) == "" {
			return nil, viewerrors.NewConfigError(viewerrors.ErrCodeConfigInvalid, "bundle name cannot be empty")
		}
		if err := validateBundle(b); err != nil {
			return nil, viewerrors.WrapConfig(err, viewerrors.ErrCodeConfigInvalid, "invalid bundle "+name)
		}
		r.Register(name, b)
	}
	return r, nil
}

func validateBundle(b Bundle) error {
	if b.Output != "" {
		if err := validation.ValidateAssetRef(b.Output); err != nil {
			return err
		}
	}
	for _, file := range b.Files {
		if err := validation.ValidateAssetRef(file); err != nil {
			return err
		}
	}
	return nil
}

// Register adds or replaces a bundle.
func (r *Registry) Register(name string, b Bundle) {
	if b.Output == "" {
		b.Output = "/bundles/" + name
	}
	files := make([]string, len(b.Files))
	copy(files, b.Files)
	b.Files = files

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.bundles[name] = b
}

// Names returns the bundle names, sorted.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.bundles))
	for name := range r.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) get(name string) (Bundle, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	b, ok := r.bundles[name]
	if !ok {
		return Bundle{}, viewerrors.NewNotFoundError(viewerrors.ErrCodeBundleNotFound, "bundle not found: "+name).
			WithContext("bundle", name)
	}
	return b, nil
}

// GetBundleFileList returns the files of bundle name in declaration order.
func (r *Registry) GetBundleFileList(name string) ([]string, error) {
	b, err := r.get(name)
	if err != nil {
		return nil, err
	}
	files := make([]string, len(b.Files))
	copy(files, b.Files)
	return files, nil
}

// GetBundleLinks returns the include tags for bundle name.
func (r *Registry) GetBundleLinks(name string, debug bool) (string, error) {
	b, err := r.get(name)
	if err != nil {
		return "", err
	}

	var tags []string
	if debug {
		for _, file := range b.Files {
			if tag := Tag(file); tag != "" {
				tags = append(tags, tag)
			}
		}
		return strings.Join(tags, "\n"), nil
	}

	// one combined tag per asset type, stylesheets first
	seen := make(map[string]bool)
	for _, file := range b.Files {
		seen[assetExt(file)] = true
	}
	for _, ext := range []string{".css", ".js"} {
		if seen[ext] {
			tags = append(tags, Tag(b.Output+ext))
		}
	}
	return strings.Join(tags, "\n"), nil
}

// Tag returns the include tag for an asset path, or "" for an unknown
// type.
func Tag(asset string) string {
	src := html.EscapeString(asset)
	switch assetExt(asset) {
	case ".css":
		return `<link rel="stylesheet" href="` + src + `" />`
	case ".js":
		return `<script src="` + src + `"></script>`
	default:
		return ""
	}
}

// assetExt returns the lower-cased extension of asset, ignoring any query
// or fragment.
func assetExt(asset string) string {
	if i := strings.IndexAny(asset, "?#"); i >= 0 {
		asset = asset[:i]
	}
	return strings.ToLower(path.Ext(asset))
}
