// Package types provides the template data model shared by the loader,
// compiler, cache and renderer. It exists on its own to avoid circular
// dependencies between those packages.
package types

import (
	"sync/atomic"
	"time"
)

// Kind classifies a template by the folder it was loaded from.
type Kind int

const (
	// KindAction is a view owned by a scope owner (controller).
	KindAction Kind = iota
	// KindShared is a view loaded from a "Shared" folder. Masters and
	// partials usually live here.
	KindShared
	// KindFragment is a standalone view loaded from a "Fragments" folder.
	// Fragments are never run through the directive processor.
	KindFragment
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindShared:
		return "shared"
	case KindFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// RawTemplate is one template file as read from disk. Values are never
// mutated after construction; a change on disk produces a new RawTemplate
// that replaces the old one in the template set.
type RawTemplate struct {
	// LogicalName is the file name without extension (e.g. "Index")
	LogicalName string
	// FullyQualifiedName is the slash-delimited cache key, relative to the
	// view root and without extension (e.g. "Admin/Users/Index")
	FullyQualifiedName string
	// Partition is empty for templates in the global view root
	Partition string
	// ScopeOwner is the owning controller folder, may be empty
	ScopeOwner string
	Kind       Kind
	// RawText is the file content with @@ comment @@ blocks removed
	RawText string
	// Fingerprint is a hex encoded 128-bit hash of RawText
	Fingerprint string
	FilePath    string
	LoadedAt    time.Time
}

// CompiledTemplate is the directive-expanded form of a RawTemplate.
// A CompiledTemplate is replaced as a whole on recompilation, so readers
// holding a pointer always see a consistent value.
type CompiledTemplate struct {
	FullyQualifiedName string
	Kind               Kind
	// SourceFingerprint is the Fingerprint of the RawTemplate this was
	// compiled from
	SourceFingerprint string
	RawText           string
	// ExpandedText has all directives resolved and head blocks hoisted.
	// Tag placeholders are left intact.
	ExpandedText string
	// Dependencies lists every template statically included while
	// compiling, sorted
	Dependencies []string
	CompiledAt   time.Time

	rendered atomic.Pointer[RenderMemo]
}

// RenderMemo is the most recent fully substituted render of a template
// together with the digest of the tag set that produced it.
type RenderMemo struct {
	Key  string
	Text string
}

// Stale reports whether raw no longer matches the source this template was
// compiled from.
func (c *CompiledTemplate) Stale(raw *RawTemplate) bool {
	if raw == nil {
		return false
	}
	return raw.Fingerprint != c.SourceFingerprint
}

// LastRendered returns the memoized render for key, if any.
func (c *CompiledTemplate) LastRendered(key string) (string, bool) {
	memo := c.rendered.Load()
	if memo == nil || memo.Key != key {
		return "", false
	}
	return memo.Text, true
}

// StoreRendered memoizes text as the render for key.
func (c *CompiledTemplate) StoreRendered(key, text string) {
	c.rendered.Store(&RenderMemo{Key: key, Text: text})
}

// ClearRendered drops the render memo.
func (c *CompiledTemplate) ClearRendered() {
	c.rendered.Store(nil)
}

// DependsOn reports whether name is one of the template's dependencies.
func (c *CompiledTemplate) DependsOn(name string) bool {
	for _, dep := range c.Dependencies {
		if dep == name {
			return true
		}
	}
	return false
}

// TemplateEvent represents a change in the template set, used for
// notifications to watchers like the watch command.
type TemplateEvent struct {
	Type      EventType
	Template  *RawTemplate
	Timestamp time.Time
}

// EventType represents the type of template set change event.
type EventType string

const (
	EventTypeAdded   EventType = "added"
	EventTypeUpdated EventType = "updated"
	EventTypeRemoved EventType = "removed"
)
