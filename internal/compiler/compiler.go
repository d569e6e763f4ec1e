// Package compiler expands raw templates into their compiled form.
//
// Compilation resolves %%Master=Name%% (the including template is spliced
// into the master at %%View%%), %%Partial=Name%% (in-place inclusion) and
// any registered directive such as %%Bundle=Name%%. Included templates are
// expanded recursively, and every target they name is resolved from the
// partition and scope of the template being compiled, so a controller's
// Shared override also applies inside a shared master. Afterwards [[ ... ]] head blocks
// are hoisted to %%Head%% and blank lines are collapsed. Fragments are
// stored verbatim.
package compiler

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	viewerrors "github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/types"
)

// Built-in directive names.
const (
	DirectiveMaster  = "Master"
	DirectivePartial = "Partial"
	DirectiveBundle  = "Bundle"
)

// Markers left in master templates.
const (
	ViewMarker = "%%View%%"
	HeadMarker = "%%Head%%"
)

// DefaultMaxDepth bounds nested Master/Partial expansion.
const DefaultMaxDepth = 32

var (
	directivePattern = regexp.MustCompile(`%%([A-Za-z][A-Za-z0-9_]*)=([^%\r\n]*)%%`)
	headPattern      = regexp.MustCompile(`(?s)\[\[(.*?)\]\]`)
	blankLinePattern = regexp.MustCompile(`(\r?\n[ \t]*)+\r?\n`)
)

// TemplateSource returns raw templates by fully qualified name.
type TemplateSource interface {
	Get(name string) (*types.RawTemplate, bool)
	All() []*types.RawTemplate
}

// NameResolver performs scoped name lookup for directive targets.
type NameResolver interface {
	Resolve(partition, scopeOwner, name string, kind types.Kind) (string, bool)
}

// DirectiveContext describes the template a directive token was found in.
type DirectiveContext struct {
	Template *types.RawTemplate
	Debug    bool
}

// DirectiveFunc returns the markup that replaces a %%Name=value%% token.
type DirectiveFunc func(ctx DirectiveContext, value string) (string, error)

// Options configures a Compiler.
type Options struct {
	// StrictDirectives fails the compile when a Master or Partial target
	// cannot be resolved. When false the token is dropped with a warning.
	StrictDirectives bool
	MaxDepth         int
	// Debug is handed to directives (bundles emit one tag per file).
	Debug  bool
	Logger logging.Logger
}

// DefaultOptions returns strict options with the default depth limit.
func DefaultOptions() Options {
	return Options{
		StrictDirectives: true,
		MaxDepth:         DefaultMaxDepth,
	}
}

// Compiler turns raw templates into compiled templates. It is safe for
// concurrent use; compiles never mutate shared state.
type Compiler struct {
	templates TemplateSource
	resolver  NameResolver
	opts      Options
	logger    logging.Logger

	mu         sync.RWMutex
	directives map[string]DirectiveFunc
}

// New creates a compiler reading templates from source and resolving
// directive targets through resolver.
func New(source TemplateSource, resolver NameResolver, opts Options) *Compiler {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Compiler{
		templates:  source,
		resolver:   resolver,
		opts:       opts,
		logger:     logger.WithComponent("compiler"),
		directives: make(map[string]DirectiveFunc),
	}
}

// RegisterDirective adds a compile-phase directive. Names are matched
// case-insensitively; Master and Partial cannot be overridden.
func (c *Compiler) RegisterDirective(name string, fn DirectiveFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.directives[strings.ToLower(name)] = fn
}

// Directives returns the names of the registered directives, sorted.
func (c *Compiler) Directives() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.directives))
	for name := range c.directives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Compiler) directive(name string) (DirectiveFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fn, ok := c.directives[strings.ToLower(name)]
	return fn, ok
}

// Compile compiles the template called name.
func (c *Compiler) Compile(name string) (*types.CompiledTemplate, error) {
	raw, ok := c.templates.Get(name)
	if !ok {
		return nil, viewerrors.ErrViewNotFound(name)
	}
	return c.CompileTemplate(raw)
}

// CompileTemplate compiles raw. Fragments are returned verbatim.
func (c *Compiler) CompileTemplate(raw *types.RawTemplate) (*types.CompiledTemplate, error) {
	if raw.Kind == types.KindFragment {
		return &types.CompiledTemplate{
			FullyQualifiedName: raw.FullyQualifiedName,
			Kind:               raw.Kind,
			SourceFingerprint:  raw.Fingerprint,
			RawText:            raw.RawText,
			ExpandedText:       raw.RawText,
			Dependencies:       []string{},
			CompiledAt:         time.Now(),
		}, nil
	}

	deps := make(map[string]bool)
	text, err := c.expand(raw, raw, []string{raw.FullyQualifiedName}, deps)
	if err != nil {
		return nil, err
	}

	text = strings.ReplaceAll(text, ViewMarker, "")
	text = HoistHead(text)
	text = CollapseBlankLines(text)

	dependencies := make([]string, 0, len(deps))
	for dep := range deps {
		dependencies = append(dependencies, dep)
	}
	sort.Strings(dependencies)

	return &types.CompiledTemplate{
		FullyQualifiedName: raw.FullyQualifiedName,
		Kind:               raw.Kind,
		SourceFingerprint:  raw.Fingerprint,
		RawText:            raw.RawText,
		ExpandedText:       text,
		Dependencies:       dependencies,
		CompiledAt:         time.Now(),
	}, nil
}

// CompileAll compiles every template in the source. Templates that fail
// are left out of the result and reported together in the returned error.
func (c *Compiler) CompileAll() ([]*types.CompiledTemplate, error) {
	collector := viewerrors.NewErrorCollector()
	compiled := c.CompileAllInto(collector)
	return compiled, collector.Err()
}

// CompileAllInto is CompileAll recording each failure in collector.
func (c *Compiler) CompileAllInto(collector *viewerrors.ErrorCollector) []*types.CompiledTemplate {
	all := c.templates.All()
	compiled := make([]*types.CompiledTemplate, 0, len(all))

	for _, raw := range all {
		tmpl, err := c.CompileTemplate(raw)
		if err != nil {
			collector.Add(raw.FullyQualifiedName, err)
			continue
		}
		compiled = append(compiled, tmpl)
	}

	return compiled
}

// expand resolves every directive in tmpl. root is the template being
// compiled; stack holds the chain of templates being expanded, tmpl last.
// Included fragments are spliced verbatim.
func (c *Compiler) expand(root, tmpl *types.RawTemplate, stack []string, deps map[string]bool) (string, error) {
	text := tmpl.RawText
	if tmpl.Kind == types.KindFragment {
		return text, nil
	}

	masterName, text := extractMaster(text)

	body, err := c.expandDirectives(root, tmpl, text, stack, deps)
	if err != nil {
		return "", err
	}

	if masterName == "" {
		return body, nil
	}

	master, err := c.include(root, tmpl, DirectiveMaster, masterName, stack, deps)
	if err != nil {
		return "", err
	}
	if master == nil {
		return body, nil
	}

	masterText, err := c.expand(root, master, append(stack, master.FullyQualifiedName), deps)
	if err != nil {
		return "", err
	}

	// a single pass keeps a nested master's own marker for the next level
	if i := strings.Index(masterText, ViewMarker); i >= 0 {
		return masterText[:i] + body + strings.ReplaceAll(masterText[i+len(ViewMarker):], ViewMarker, ""), nil
	}

	c.logger.Warn(context.Background(), nil, "master has no view marker",
		"template", tmpl.FullyQualifiedName,
		"master", master.FullyQualifiedName)
	return masterText, nil
}

// extractMaster removes every Master token from text and returns the
// first target.
func extractMaster(text string) (string, string) {
	var target string
	result := directivePattern.ReplaceAllStringFunc(text, func(token string) string {
		match := directivePattern.FindStringSubmatch(token)
		if !strings.EqualFold(match[1], DirectiveMaster) {
			return token
		}
		if target == "" {
			target = strings.TrimSpace(match[2])
		}
		return ""
	})
	return target, result
}

// expandDirectives replaces Partial and registered directive tokens in
// text. Master tokens have already been removed.
func (c *Compiler) expandDirectives(root, tmpl *types.RawTemplate, text string, stack []string, deps map[string]bool) (string, error) {
	matches := directivePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0

	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		last = m[1]

		name := text[m[2]:m[3]]
		value := strings.TrimSpace(text[m[4]:m[5]])

		if strings.EqualFold(name, DirectivePartial) {
			partial, err := c.include(root, tmpl, DirectivePartial, value, stack, deps)
			if err != nil {
				return "", err
			}
			if partial == nil {
				continue
			}
			expanded, err := c.expand(root, partial, append(stack, partial.FullyQualifiedName), deps)
			if err != nil {
				return "", err
			}
			b.WriteString(expanded)
			continue
		}

		fn, ok := c.directive(name)
		if !ok {
			c.logger.Debug(context.Background(), "dropping unknown directive",
				"template", tmpl.FullyQualifiedName,
				"directive", name)
			continue
		}

		replacement, err := fn(DirectiveContext{Template: tmpl, Debug: c.opts.Debug}, value)
		if err != nil {
			if c.opts.StrictDirectives {
				return "", viewerrors.WrapCompile(err, viewerrors.ErrCodeDirectiveFailed,
					"directive "+name+" failed", stack[0])
			}
			c.logger.Warn(context.Background(), err, "dropping failed directive",
				"template", tmpl.FullyQualifiedName,
				"directive", name,
				"value", value)
			continue
		}
		b.WriteString(replacement)
	}

	b.WriteString(text[last:])
	return b.String(), nil
}

// include resolves a Master or Partial target found in tmpl against the
// scope of root and checks the chain for cycles and depth. It returns nil when the target is
// unresolved and the compiler is lenient.
func (c *Compiler) include(root, tmpl *types.RawTemplate, directive, target string, stack []string, deps map[string]bool) (*types.RawTemplate, error) {
	name, ok := c.resolver.Resolve(root.Partition, root.ScopeOwner, target, types.KindShared)
	var included *types.RawTemplate
	if ok {
		included, ok = c.templates.Get(name)
	}
	if !ok {
		if c.opts.StrictDirectives {
			return nil, viewerrors.ErrDirectiveUnresolved(directive, target).WithTemplate(stack[0])
		}
		c.logger.Warn(context.Background(), nil, "dropping unresolved directive",
			"template", tmpl.FullyQualifiedName,
			"directive", directive,
			"target", target)
		return nil, nil
	}

	for _, ancestor := range stack {
		if ancestor == name {
			chain := append(append([]string{}, stack...), name)
			return nil, viewerrors.ErrDirectiveCycle(chain).WithTemplate(stack[0])
		}
	}
	if len(stack) >= c.opts.MaxDepth {
		chain := append(append([]string{}, stack...), name)
		return nil, viewerrors.ErrRecursionDepth(chain, c.opts.MaxDepth).WithTemplate(stack[0])
	}

	deps[name] = true
	return included, nil
}

// HoistHead moves the bodies of all [[ ... ]] blocks to the first %%Head%%
// marker, trimming leading whitespace from each line. Without a marker the
// blocks are dropped.
func HoistHead(text string) string {
	matches := headPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		if strings.Contains(text, HeadMarker) {
			return strings.ReplaceAll(text, HeadMarker, "")
		}
		return text
	}

	var head []string
	for _, m := range matches {
		lines := strings.Split(m[1], "\n")
		for i, line := range lines {
			lines[i] = strings.TrimLeft(line, " \t")
		}
		head = append(head, strings.Join(lines, "\n"))
	}

	text = headPattern.ReplaceAllString(text, "")

	i := strings.Index(text, HeadMarker)
	if i < 0 {
		return text
	}
	rest := strings.ReplaceAll(text[i+len(HeadMarker):], HeadMarker, "")
	return text[:i] + strings.Join(head, "\n") + rest
}

// CollapseBlankLines removes lines containing only whitespace.
func CollapseBlankLines(text string) string {
	return blankLinePattern.ReplaceAllString(text, "\n")
}
