// Package resolver maps a logical template name, seen from a partition and
// scope owner, to the fully qualified name of the most specific template
// that exists.
package resolver

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/conneroisu/vellum/internal/types"
)

// DefaultCacheSize bounds the number of memoized lookups.
const DefaultCacheSize = 4096

// TemplateLookup is the view of the template set the resolver needs.
type TemplateLookup interface {
	Has(name string) bool
	Version() uint64
}

type cacheKey struct {
	partition string
	scope     string
	name      string
}

type cacheEntry struct {
	name  string
	found bool
}

// Resolver performs scoped lookups against a template set. Results,
// misses included, are memoized until the set's version changes.
type Resolver struct {
	templates TemplateLookup

	mu      sync.Mutex
	cache   *lru.Cache
	version uint64
}

// New creates a resolver over templates.
func New(templates TemplateLookup) *Resolver {
	return &Resolver{
		templates: templates,
		cache:     lru.New(DefaultCacheSize),
		version:   templates.Version(),
	}
}

// Candidates returns the names tried for name, most specific first.
func Candidates(partition, scopeOwner, name string) []string {
	var candidates []string

	if partition != "" {
		candidates = append(candidates,
			partition+"/Views/Shared/"+name,
			partition+"/Views/Fragments/"+name,
		)
		if scopeOwner != "" {
			prefix := partition + "/" + scopeOwner + "/"
			candidates = append(candidates,
				prefix+name,
				prefix+"Shared/"+name,
				prefix+"Fragments/"+name,
			)
		}
	} else if scopeOwner != "" {
		prefix := scopeOwner + "/"
		candidates = append(candidates,
			prefix+name,
			prefix+"Shared/"+name,
			prefix+"Fragments/"+name,
		)
	}

	candidates = append(candidates,
		"Shared/"+name,
		"Fragments/"+name,
	)

	return dedupe(candidates)
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	result := names[:0]
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		result = append(result, name)
	}
	return result
}

// Resolve returns the first candidate present in the template set. kind is
// informational; lookups are never filtered by it.
func (r *Resolver) Resolve(partition, scopeOwner, name string, kind types.Kind) (string, bool) {
	key := cacheKey{partition: partition, scope: scopeOwner, name: name}

	r.mu.Lock()
	if v := r.templates.Version(); v != r.version {
		r.cache.Clear()
		r.version = v
	}
	if cached, ok := r.cache.Get(key); ok {
		r.mu.Unlock()
		entry := cached.(cacheEntry)
		return entry.name, entry.found
	}
	version := r.version
	r.mu.Unlock()

	entry := cacheEntry{}
	for _, candidate := range Candidates(partition, scopeOwner, name) {
		if r.templates.Has(candidate) {
			entry = cacheEntry{name: candidate, found: true}
			break
		}
	}

	r.mu.Lock()
	// A lookup computed against an older set must not be cached.
	if r.version == version && r.templates.Version() == version {
		r.cache.Add(key, entry)
	}
	r.mu.Unlock()

	return entry.name, entry.found
}

// Purge drops every memoized lookup.
func (r *Resolver) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Clear()
	r.version = r.templates.Version()
}

// CacheLen returns the number of memoized lookups.
func (r *Resolver) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cache.Len()
}
