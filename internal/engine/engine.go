// Package engine is the entry point of the view engine. It owns the
// template set, the compiled cache and the dependency graph, and wires the
// loader, resolver, compiler, renderer and hot-reload tracker together.
//
// Renders only take read locks. Writers (initial load, reloads) compile
// outside any cache lock and swap finished entries in, so a render sees
// either the previous or the new compiled template. Every swap happens
// under writeMu; a render that finds its template stale only recompiles
// when no writer is active.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/vellum/internal/antiforgery"
	"github.com/conneroisu/vellum/internal/bundle"
	"github.com/conneroisu/vellum/internal/cache"
	"github.com/conneroisu/vellum/internal/compiler"
	"github.com/conneroisu/vellum/internal/config"
	viewerrors "github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/registry"
	"github.com/conneroisu/vellum/internal/renderer"
	"github.com/conneroisu/vellum/internal/resolver"
	"github.com/conneroisu/vellum/internal/scanner"
	"github.com/conneroisu/vellum/internal/tracker"
	"github.com/conneroisu/vellum/internal/types"
	"github.com/conneroisu/vellum/internal/watcher"
)

// Options configures an Engine.
type Options struct {
	Extension        string
	StrictDirectives bool
	MaxDepth         int
	Debug            bool

	Memoize          bool
	AntiForgeryField string
	TokenTTL         time.Duration

	Debounce          time.Duration
	LockRetryInterval time.Duration
	LockRetryMax      time.Duration

	// Bundles backs the Bundle directive. Without it Bundle tokens are
	// dropped like any unknown directive.
	Bundles compiler.BundleProvider
	// Tokens mints anti-forgery tokens; an in-memory issuer is created
	// when nil.
	Tokens   renderer.TokenIssuer
	Markdown renderer.MarkdownTransformer
	Encoder  renderer.HTMLEncoder
	Logger   logging.Logger
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Extension:         config.DefaultExtension,
		StrictDirectives:  true,
		MaxDepth:          config.DefaultMaxDepth,
		Memoize:           true,
		AntiForgeryField:  config.DefaultAntiForgeryField,
		TokenTTL:          config.DefaultTokenTTL,
		Debounce:          config.DefaultDebounce,
		LockRetryInterval: config.DefaultLockRetryInterval,
		LockRetryMax:      config.DefaultLockRetryMax,
	}
}

// OptionsFromConfig maps a loaded configuration to engine options. The
// bundle manifest, when configured, is read here.
func OptionsFromConfig(cfg *config.Config, logger logging.Logger) (Options, error) {
	opts := Options{
		Extension:         cfg.Views.Extension,
		StrictDirectives:  cfg.Views.StrictDirectives,
		MaxDepth:          cfg.Views.MaxDepth,
		Debug:             cfg.Views.Debug,
		Memoize:           cfg.Render.Memoize,
		AntiForgeryField:  cfg.Render.AntiForgeryField,
		TokenTTL:          cfg.Render.TokenTTL,
		Debounce:          cfg.Watch.Debounce,
		LockRetryInterval: cfg.Watch.LockRetryInterval,
		LockRetryMax:      cfg.Watch.LockRetryMax,
		Logger:            logger,
	}

	if cfg.Bundles.Manifest != "" {
		bundles, err := bundle.Load(cfg.Bundles.Manifest)
		if err != nil {
			return Options{}, err
		}
		opts.Bundles = bundles
	}
	return opts, nil
}

// Roots converts configured view roots to loader roots.
func Roots(cfg *config.Config) []scanner.Root {
	configured := cfg.Roots()
	roots := make([]scanner.Root, len(configured))
	for i, r := range configured {
		roots[i] = scanner.Root{Path: r.Path, Partition: r.Partition}
	}
	return roots
}

// Engine is a view engine instance. Create one per process and share it.
type Engine struct {
	opts   Options
	logger logging.Logger

	loader    *scanner.Loader
	templates *registry.TemplateSet
	deps      *registry.DependencyGraph
	resolver  *resolver.Resolver
	compiler  *compiler.Compiler
	store     *cache.Store
	renderer  *renderer.Renderer
	issuer    *antiforgery.Issuer
	failures  *viewerrors.ErrorCollector

	// writeMu serialises load, compile and reload passes
	writeMu sync.Mutex

	failedMu sync.Mutex
	failed   map[string]failedSource

	watchMu     sync.Mutex
	fileWatcher *watcher.FileWatcher
	tracker     *tracker.Tracker
	cancelWatch context.CancelFunc
}

// New creates an engine. Call LoadAll and CompileAll before rendering.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	logger := opts.Logger.WithComponent("engine")

	templates := registry.NewTemplateSet()
	res := resolver.New(templates)
	store := cache.NewStore()

	comp := compiler.New(templates, res, compiler.Options{
		StrictDirectives: opts.StrictDirectives,
		MaxDepth:         opts.MaxDepth,
		Debug:            opts.Debug,
		Logger:           opts.Logger,
	})
	if opts.Bundles != nil {
		comp.RegisterDirective(compiler.DirectiveBundle, compiler.BundleDirective(opts.Bundles, opts.Logger))
	}

	rend := renderer.New(store, renderer.Options{
		Memoize:  opts.Memoize,
		Markdown: opts.Markdown,
		Encoder:  opts.Encoder,
		Logger:   opts.Logger,
	})

	e := &Engine{
		opts:      opts,
		logger:    logger,
		loader:    scanner.NewLoader(opts.Extension),
		templates: templates,
		deps:      registry.NewDependencyGraph(),
		resolver:  res,
		compiler:  comp,
		store:     store,
		renderer:  rend,
		failures:  viewerrors.NewErrorCollector(),
		failed:    make(map[string]failedSource),
	}

	tokens := opts.Tokens
	if tokens == nil {
		e.issuer = antiforgery.NewIssuer(opts.TokenTTL)
		tokens = e.issuer
	}
	rend.AddHandler(renderer.NewAntiForgeryHandler(tokens, opts.AntiForgeryField))

	return e
}

// RegisterDirective adds a compile-phase directive. Templates compiled
// earlier are not affected until they are recompiled.
func (e *Engine) RegisterDirective(name string, fn compiler.DirectiveFunc) {
	e.compiler.RegisterDirective(name, fn)
}

// AddRenderHandler adds a render-phase handler.
func (e *Engine) AddRenderHandler(h renderer.RenderHandler) {
	e.renderer.AddHandler(h)
}

// Issuer returns the built-in anti-forgery issuer, nil when Options.Tokens
// was supplied.
func (e *Engine) Issuer() *antiforgery.Issuer {
	return e.issuer
}

// LoadAll reads every template under roots and replaces the template set.
func (e *Engine) LoadAll(roots []scanner.Root) ([]*types.RawTemplate, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	perf := logging.StartOperation(e.logger, "load_all")
	templates, err := e.loader.LoadAll(roots)
	if err != nil {
		perf.EndWithError(context.Background(), err)
		return nil, err
	}

	e.templates.Replace(templates)
	perf.End(context.Background(), "templates", len(templates), "roots", len(roots))
	return templates, nil
}

// LoadOne reads a single template file. It returns (nil, nil) when the
// file does not exist. The template set is not modified.
func (e *Engine) LoadOne(path string) (*types.RawTemplate, error) {
	return e.loader.LoadOne(path)
}

// CompileAll compiles every loaded template. Templates that fail keep
// their previous compiled entry, if any, and are reported in the error.
func (e *Engine) CompileAll() ([]*types.CompiledTemplate, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	perf := logging.StartOperation(e.logger, "compile_all")
	e.failures.Reset()
	version := e.templates.Version()
	compiled := e.compiler.CompileAllInto(e.failures)
	err := e.failures.Err()
	for _, failure := range e.failures.Failures() {
		if raw, ok := e.templates.Get(failure.Template); ok {
			e.markFailed(raw, version)
		}
	}

	for _, tmpl := range compiled {
		e.commit(tmpl)
	}

	// drop entries for templates no longer on disk
	for _, name := range e.store.Names() {
		if !e.templates.Has(name) {
			e.store.Remove(name)
			e.deps.Remove(name)
		}
	}

	if err != nil {
		perf.EndWithError(context.Background(), err)
		return compiled, err
	}
	perf.End(context.Background(), "compiled", len(compiled))
	return compiled, nil
}

// Compile compiles one template and swaps it into the cache. On failure
// the previous entry stays in place.
func (e *Engine) Compile(name string) (*types.CompiledTemplate, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	return e.compile(name)
}

// compile is Compile for callers holding writeMu.
func (e *Engine) compile(name string) (*types.CompiledTemplate, error) {
	raw, ok := e.templates.Get(name)
	if !ok {
		return nil, viewerrors.ErrViewNotFound(name)
	}

	version := e.templates.Version()
	compiled, err := e.compiler.CompileTemplate(raw)
	if err != nil {
		e.failures.Add(name, err)
		e.markFailed(raw, version)
		return nil, err
	}
	e.commit(compiled)
	return compiled, nil
}

// commit swaps compiled into the cache unless the source changed while it
// was being compiled. Callers hold writeMu.
func (e *Engine) commit(compiled *types.CompiledTemplate) bool {
	name := compiled.FullyQualifiedName
	raw, ok := e.templates.Get(name)
	if !ok || raw.Fingerprint != compiled.SourceFingerprint {
		return false
	}
	e.store.Put(compiled)
	e.deps.Set(name, compiled.Dependencies)
	e.failures.Clear(name)
	e.clearFailed(name)
	return true
}

// failedSource identifies a compile that failed: the template source and
// the template set it was resolved against.
type failedSource struct {
	fingerprint string
	version     uint64
}

func (e *Engine) markFailed(raw *types.RawTemplate, version uint64) {
	e.failedMu.Lock()
	defer e.failedMu.Unlock()

	e.failed[raw.FullyQualifiedName] = failedSource{fingerprint: raw.Fingerprint, version: version}
}

func (e *Engine) clearFailed(name string) {
	e.failedMu.Lock()
	defer e.failedMu.Unlock()

	delete(e.failed, name)
}

// knownFailure reports whether raw already failed to compile against the
// current template set.
func (e *Engine) knownFailure(raw *types.RawTemplate) bool {
	e.failedMu.Lock()
	defer e.failedMu.Unlock()

	f, ok := e.failed[raw.FullyQualifiedName]
	return ok && f.fingerprint == raw.Fingerprint && f.version == e.templates.Version()
}

// Resolve returns the fully qualified name name resolves to from the
// given partition and scope owner.
func (e *Engine) Resolve(partition, scopeOwner, name string, kind types.Kind) (string, bool) {
	return e.resolver.Resolve(partition, scopeOwner, name, kind)
}

// Render renders a compiled template with tags. A template whose source
// changed since it was compiled is recompiled first; if that fails, or a
// writer is busy, the previous version is rendered.
func (e *Engine) Render(name string, tags map[string]string) (string, error) {
	compiled, ok := e.store.Get(name)
	if !ok {
		return "", viewerrors.ErrViewNotFound(name)
	}

	if raw, ok := e.templates.Get(name); ok && compiled.Stale(raw) && !e.knownFailure(raw) {
		compiled = e.refresh(name, compiled)
	}

	return e.renderer.RenderTemplate(compiled, tags)
}

// refresh recompiles a stale template for Render. It never waits for a
// writer; the writer holding the lock recompiles the template itself.
func (e *Engine) refresh(name string, current *types.CompiledTemplate) *types.CompiledTemplate {
	if !e.writeMu.TryLock() {
		return current
	}
	defer e.writeMu.Unlock()

	// another render may have refreshed it already
	if latest, ok := e.store.Get(name); ok {
		if raw, ok := e.templates.Get(name); ok && !latest.Stale(raw) {
			return latest
		}
	}

	fresh, err := e.compile(name)
	if err != nil {
		e.logger.Warn(context.Background(), err, "rendering stale template", "template", name)
		return current
	}
	return fresh
}

// RenderView resolves name from a partition and scope owner, then renders
// it.
func (e *Engine) RenderView(partition, scopeOwner, name string, tags map[string]string) (string, error) {
	fqn, ok := e.Resolve(partition, scopeOwner, name, types.KindAction)
	if !ok {
		return "", viewerrors.ErrViewNotFound(name).
			WithContext("partition", partition).
			WithContext("scope", scopeOwner)
	}
	return e.Render(fqn, tags)
}

// Templates returns the compiled templates sorted by name.
func (e *Engine) Templates() []*types.CompiledTemplate {
	return e.store.All()
}

// Template returns a compiled template.
func (e *Engine) Template(name string) (*types.CompiledTemplate, bool) {
	return e.store.Get(name)
}

// Sources returns the loaded raw templates sorted by name.
func (e *Engine) Sources() []*types.RawTemplate {
	return e.templates.All()
}

// Dependencies returns a copy of the dependency graph.
func (e *Engine) Dependencies() map[string][]string {
	return e.deps.Graph()
}

// Cycles returns the include cycles recorded in the dependency graph.
func (e *Engine) Cycles() [][]string {
	return e.deps.DetectCycles()
}

// Failures returns the templates whose latest compile failed.
func (e *Engine) Failures() []viewerrors.CompileFailure {
	return e.failures.Failures()
}

// CacheStats returns the compiled cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.store.Stats()
}

// Roots returns the roots of the last LoadAll.
func (e *Engine) Roots() []scanner.Root {
	return e.loader.Roots()
}
