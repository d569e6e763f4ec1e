// Package cache holds the compiled templates served to the renderer.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/vellum/internal/types"
)

// Store maps fully qualified names to compiled templates. Entries are
// immutable; an update swaps the pointer under the write lock so readers
// see either the old or the new template, never a mix.
type Store struct {
	entries map[string]*types.CompiledTemplate
	mutex   sync.RWMutex
	// Statistics tracking (atomic for thread safety)
	hits    int64
	misses  int64
	swaps   int64
	deletes int64
}

// Stats is a snapshot of store counters.
type Stats struct {
	Entries int     `json:"entries" yaml:"entries"`
	Hits    int64   `json:"hits" yaml:"hits"`
	Misses  int64   `json:"misses" yaml:"misses"`
	Swaps   int64   `json:"swaps" yaml:"swaps"`
	Deletes int64   `json:"deletes" yaml:"deletes"`
	HitRate float64 `json:"hit_rate" yaml:"hit_rate"`
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*types.CompiledTemplate),
	}
}

// Get retrieves a compiled template.
func (s *Store) Get(name string) (*types.CompiledTemplate, bool) {
	s.mutex.RLock()
	tmpl, exists := s.entries[name]
	s.mutex.RUnlock()

	if !exists {
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}
	atomic.AddInt64(&s.hits, 1)
	return tmpl, true
}

// Put stores tmpl and returns the entry it replaced, if any.
func (s *Store) Put(tmpl *types.CompiledTemplate) *types.CompiledTemplate {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	previous := s.entries[tmpl.FullyQualifiedName]
	s.entries[tmpl.FullyQualifiedName] = tmpl
	atomic.AddInt64(&s.swaps, 1)
	return previous
}

// Replace swaps the whole store for templates.
func (s *Store) Replace(templates []*types.CompiledTemplate) {
	next := make(map[string]*types.CompiledTemplate, len(templates))
	for _, tmpl := range templates {
		next[tmpl.FullyQualifiedName] = tmpl
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries = next
	atomic.AddInt64(&s.swaps, int64(len(templates)))
}

// Remove deletes an entry and reports whether it existed.
func (s *Store) Remove(name string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.entries[name]; !exists {
		return false
	}
	delete(s.entries, name)
	atomic.AddInt64(&s.deletes, 1)
	return true
}

// Names returns the stored names, sorted.
func (s *Store) Names() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every compiled template sorted by name.
func (s *Store) All() []*types.CompiledTemplate {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*types.CompiledTemplate, 0, len(s.entries))
	for _, tmpl := range s.entries {
		result = append(result, tmpl)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FullyQualifiedName < result[j].FullyQualifiedName
	})
	return result
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.entries)
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	hits := atomic.LoadInt64(&s.hits)
	misses := atomic.LoadInt64(&s.misses)

	stats := Stats{
		Entries: s.Len(),
		Hits:    hits,
		Misses:  misses,
		Swaps:   atomic.LoadInt64(&s.swaps),
		Deletes: atomic.LoadInt64(&s.deletes),
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}
