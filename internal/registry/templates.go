// Package registry holds the loaded template set and the dependency graph
// between compiled templates.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/vellum/internal/types"
)

// TemplateSet is the current set of raw templates keyed by fully qualified
// name. Every mutation bumps Version so resolution caches can tell the set
// changed under them.
type TemplateSet struct {
	templates map[string]*types.RawTemplate
	mutex     sync.RWMutex
	watchers  []chan types.TemplateEvent
	version   atomic.Uint64
}

// NewTemplateSet creates an empty template set.
func NewTemplateSet() *TemplateSet {
	return &TemplateSet{
		templates: make(map[string]*types.RawTemplate),
		watchers:  make([]chan types.TemplateEvent, 0),
	}
}

// Put adds or replaces a template and reports whether it was new.
func (s *TemplateSet) Put(tmpl *types.RawTemplate) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	eventType := types.EventTypeAdded
	_, exists := s.templates[tmpl.FullyQualifiedName]
	if exists {
		eventType = types.EventTypeUpdated
	}

	s.templates[tmpl.FullyQualifiedName] = tmpl
	s.version.Add(1)
	s.notify(eventType, tmpl)

	return !exists
}

// Replace swaps the whole set for templates.
func (s *TemplateSet) Replace(templates []*types.RawTemplate) {
	next := make(map[string]*types.RawTemplate, len(templates))
	for _, tmpl := range templates {
		next[tmpl.FullyQualifiedName] = tmpl
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.templates = next
	s.version.Add(1)
}

// Get retrieves a template by fully qualified name.
func (s *TemplateSet) Get(name string) (*types.RawTemplate, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tmpl, exists := s.templates[name]
	return tmpl, exists
}

// Has reports whether name is in the set.
func (s *TemplateSet) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Remove deletes a template and reports whether it was present.
func (s *TemplateSet) Remove(name string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tmpl, exists := s.templates[name]
	if !exists {
		return false
	}

	delete(s.templates, name)
	s.version.Add(1)
	s.notify(types.EventTypeRemoved, tmpl)

	return true
}

// Names returns every fully qualified name, sorted.
func (s *TemplateSet) Names() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every template sorted by name.
func (s *TemplateSet) All() []*types.RawTemplate {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*types.RawTemplate, 0, len(s.templates))
	for _, tmpl := range s.templates {
		result = append(result, tmpl)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FullyQualifiedName < result[j].FullyQualifiedName
	})
	return result
}

// WithLogicalName returns the names of templates whose last segment is
// logicalName.
func (s *TemplateSet) WithLogicalName(logicalName string) []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var names []string
	for name, tmpl := range s.templates {
		if tmpl.LogicalName == logicalName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Count returns the number of templates.
func (s *TemplateSet) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.templates)
}

// Version returns a counter bumped on every change to the set.
func (s *TemplateSet) Version() uint64 {
	return s.version.Load()
}

// Watch returns a channel that receives template events.
func (s *TemplateSet) Watch() <-chan types.TemplateEvent {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ch := make(chan types.TemplateEvent, 100)
	s.watchers = append(s.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it.
func (s *TemplateSet) UnWatch(ch <-chan types.TemplateEvent) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, watcher := range s.watchers {
		if watcher == ch {
			close(watcher)
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			break
		}
	}
}

// notify must be called with the write lock held.
func (s *TemplateSet) notify(eventType types.EventType, tmpl *types.RawTemplate) {
	event := types.TemplateEvent{
		Type:      eventType,
		Template:  tmpl,
		Timestamp: time.Now(),
	}

	for _, watcher := range s.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}
