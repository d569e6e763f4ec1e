package engine

import (
	"context"
	"sort"

	"github.com/conneroisu/vellum/internal/types"
)

// ReloadResult describes what a reload changed.
type ReloadResult struct {
	Template string
	Kind     types.Kind
	// Unchanged is set when the file content matched the compiled source.
	Unchanged bool
	Removed   bool
	// Recompiled lists the templates recompiled, the changed one last.
	Recompiled []string
	// Failed lists templates whose recompile failed; their previous
	// compiled entry is kept.
	Failed []string
}

// Reload reloads the template file at path and recompiles it along with
// every template that includes it. A missing file removes the template.
func (e *Engine) Reload(ctx context.Context, path string) (*ReloadResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	raw, err := e.loader.LoadOne(path)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return e.remove(ctx, path)
	}

	name := raw.FullyQualifiedName
	result := &ReloadResult{Template: name, Kind: raw.Kind}

	if compiled, ok := e.store.Get(name); ok && !compiled.Stale(raw) {
		if current, ok := e.templates.Get(name); ok && current.Fingerprint == raw.Fingerprint {
			result.Unchanged = true
			e.logger.Debug(ctx, "template unchanged", "template", name)
			return result, nil
		}
	}

	isNew := e.templates.Put(raw)

	targets := e.deps.TransitiveDependents(name)
	if isNew {
		// a new, more specific template may shadow what others resolved to
		targets = appendUnique(targets, e.shadowed(name, raw.LogicalName)...)
	}

	result.Recompiled, result.Failed = e.recompile(ctx, targets)

	if _, err := e.compile(name); err != nil {
		result.Failed = append(result.Failed, name)
		return result, err
	}
	result.Recompiled = append(result.Recompiled, name)

	e.logger.Info(ctx, "template reloaded",
		"template", name,
		"kind", raw.Kind.String(),
		"dependents", len(targets),
		"failed", len(result.Failed))
	return result, nil
}

// remove drops the template at path and recompiles its dependents.
func (e *Engine) remove(ctx context.Context, path string) (*ReloadResult, error) {
	name, err := e.loader.NameFor(path)
	if err != nil {
		return nil, err
	}

	result := &ReloadResult{Template: name, Removed: true}
	raw, ok := e.templates.Get(name)
	if !ok {
		return result, nil
	}
	result.Kind = raw.Kind

	targets := e.deps.TransitiveDependents(name)
	e.templates.Remove(name)
	e.store.Remove(name)
	e.deps.Remove(name)
	e.failures.Clear(name)
	e.clearFailed(name)

	result.Recompiled, result.Failed = e.recompile(ctx, targets)

	e.logger.Info(ctx, "template removed",
		"template", name,
		"dependents", len(targets),
		"failed", len(result.Failed))
	return result, nil
}

// recompile compiles names in order and swaps each success into the
// cache.
func (e *Engine) recompile(ctx context.Context, names []string) (recompiled, failed []string) {
	for _, name := range names {
		if !e.templates.Has(name) {
			continue
		}
		if _, err := e.compile(name); err != nil {
			failed = append(failed, name)
			e.logger.Warn(ctx, err, "dependent failed to recompile, keeping previous version",
				"template", name)
			continue
		}
		recompiled = append(recompiled, name)
	}
	return recompiled, failed
}

// shadowed returns the templates that included another template with the
// same logical name as name, directly or transitively.
func (e *Engine) shadowed(name, logicalName string) []string {
	var result []string
	for _, other := range e.templates.WithLogicalName(logicalName) {
		if other == name {
			continue
		}
		for _, dependent := range e.deps.TransitiveDependents(other) {
			if dependent != name {
				result = appendUnique(result, dependent)
			}
		}
	}
	sort.Strings(result)
	return result
}

func appendUnique(list []string, names ...string) []string {
	seen := make(map[string]bool, len(list))
	for _, name := range list {
		seen[name] = true
	}
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			list = append(list, name)
		}
	}
	return list
}
