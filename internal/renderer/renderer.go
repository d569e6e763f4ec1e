// Package renderer substitutes tag values into compiled templates.
//
// Three placeholder forms are recognised: {{name}} inserts the value as is,
// {|name|} HTML-escapes it and {!name!} renders it as Markdown. Placeholders
// whose tag is absent or empty are removed so no placeholder syntax ever
// reaches the output. Render handlers run over the compiled text before
// substitution, so markup supplied through tag values never reaches a
// handler; the anti-forgery handler is the main one.
package renderer

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	viewerrors "github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/logging"
	"github.com/conneroisu/vellum/internal/types"
)

// placeholderPattern matches the three placeholder forms. Exactly one of
// the groups is set for a match.
var placeholderPattern = regexp.MustCompile(`\{\{([^{}\r\n]*)\}\}|\{\|([^{}|\r\n]*)\|\}|\{!([^{}!\r\n]*)!\}`)

// Encoding is the substitution applied to a tag value.
type Encoding int

const (
	EncodingRaw Encoding = iota
	EncodingHTML
	EncodingMarkdown
)

// TemplateStore returns compiled templates by fully qualified name.
type TemplateStore interface {
	Get(name string) (*types.CompiledTemplate, bool)
}

// MarkdownTransformer converts Markdown to HTML.
type MarkdownTransformer interface {
	ToHTML(markdown string) string
}

// HTMLEncoder escapes text for inclusion in HTML.
type HTMLEncoder interface {
	Encode(text string) string
}

// RenderHandler rewrites compiled text at render time, before tag values
// are substituted.
type RenderHandler interface {
	Name() string
	// Claims reports whether the handler would change text. Output of
	// claimed templates differs per render and is never memoized.
	Claims(text string) bool
	Apply(text string) (string, error)
}

// Options configures a Renderer.
type Options struct {
	// Memoize keeps the latest render per template when no handler
	// claims the template.
	Memoize  bool
	Markdown MarkdownTransformer
	Encoder  HTMLEncoder
	Logger   logging.Logger
}

// Renderer renders compiled templates. It is safe for concurrent use and
// never modifies a template's ExpandedText.
type Renderer struct {
	store    TemplateStore
	markdown MarkdownTransformer
	encoder  HTMLEncoder
	memoize  bool
	logger   logging.Logger

	mu       sync.RWMutex
	handlers []RenderHandler
}

// New creates a renderer over store. Missing collaborators get the
// default Markdown transformer and HTML encoder.
func New(store TemplateStore, opts Options) *Renderer {
	if opts.Markdown == nil {
		opts.Markdown = NewMarkdown()
	}
	if opts.Encoder == nil {
		opts.Encoder = HTMLEscaper{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	return &Renderer{
		store:    store,
		markdown: opts.Markdown,
		encoder:  opts.Encoder,
		memoize:  opts.Memoize,
		logger:   opts.Logger.WithComponent("renderer"),
	}
}

// AddHandler registers a render handler. Handlers run in registration
// order.
func (r *Renderer) AddHandler(h RenderHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = append(r.handlers, h)
}

// Handlers returns the registered handlers.
func (r *Renderer) Handlers() []RenderHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := make([]RenderHandler, len(r.handlers))
	copy(handlers, r.handlers)
	return handlers
}

// Render renders the compiled template called name with tags.
func (r *Renderer) Render(name string, tags map[string]string) (string, error) {
	tmpl, ok := r.store.Get(name)
	if !ok {
		return "", viewerrors.ErrViewNotFound(name)
	}
	return r.RenderTemplate(tmpl, tags)
}

// RenderTemplate renders tmpl with tags.
func (r *Renderer) RenderTemplate(tmpl *types.CompiledTemplate, tags map[string]string) (string, error) {
	handlers := r.Handlers()

	var active []RenderHandler
	for _, h := range handlers {
		if h.Claims(tmpl.ExpandedText) {
			active = append(active, h)
		}
	}

	memoize := r.memoize && len(active) == 0
	var key string
	if memoize {
		key = TagDigest(tags)
		if text, ok := tmpl.LastRendered(key); ok {
			return text, nil
		}
	}

	text := tmpl.ExpandedText
	for _, h := range active {
		var err error
		text, err = h.Apply(text)
		if err != nil {
			r.logger.Error(context.Background(), err, "render handler failed",
				"template", tmpl.FullyQualifiedName,
				"handler", h.Name())
			return "", viewerrors.Wrap(err, viewerrors.ErrorTypeInternal,
				viewerrors.ErrCodeRenderHandlerFailure,
				"render handler "+h.Name()+" failed").WithTemplate(tmpl.FullyQualifiedName)
		}
	}

	text = Substitute(text, tags, r.markdown, r.encoder)

	if memoize {
		tmpl.StoreRendered(key, text)
	}
	return text, nil
}

// Substitute replaces every placeholder in text in a single pass. Present
// tags are trimmed and encoded according to their bracket form; absent or
// empty tags are removed. Substituted values are never rescanned.
func Substitute(text string, tags map[string]string, markdown MarkdownTransformer, encoder HTMLEncoder) string {
	if !strings.Contains(text, "{") {
		return text
	}

	matches := placeholderPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0

	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		last = m[1]

		var name string
		var encoding Encoding
		switch {
		case m[2] >= 0:
			name, encoding = text[m[2]:m[3]], EncodingRaw
		case m[4] >= 0:
			name, encoding = text[m[4]:m[5]], EncodingHTML
		default:
			name, encoding = text[m[6]:m[7]], EncodingMarkdown
		}

		value := strings.TrimSpace(tags[strings.TrimSpace(name)])
		if value == "" {
			continue
		}

		switch encoding {
		case EncodingRaw:
			b.WriteString(value)
		case EncodingHTML:
			b.WriteString(encoder.Encode(value))
		case EncodingMarkdown:
			b.WriteString(markdown.ToHTML(value))
		}
	}

	b.WriteString(text[last:])
	return b.String()
}

// Sweep removes every placeholder from text.
func Sweep(text string) string {
	return placeholderPattern.ReplaceAllString(text, "")
}

// TagDigest returns a stable digest of tags, independent of map order.
func TagDigest(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// blake2b.New256 only fails for oversized keys
	h, _ := blake2b.New256(nil)
	for _, k := range keys {
		writeField(h, k)
		writeField(h, tags[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes s length-prefixed so that fields cannot run together.
func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
