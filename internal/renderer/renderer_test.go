package renderer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/vellum/internal/cache"
	viewerrors "github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/types"
)

type sequenceIssuer struct {
	mu   sync.Mutex
	next int
	err  error
}

func (s *sequenceIssuer) IssueToken(kind string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("t%d", s.next), nil
}

func newRenderer(t *testing.T, opts Options, templates map[string]string) (*Renderer, *cache.Store) {
	t.Helper()
	store := cache.NewStore()
	for name, text := range templates {
		store.Put(&types.CompiledTemplate{FullyQualifiedName: name, ExpandedText: text})
	}
	return New(store, opts), store
}

func TestRender_Encodings(t *testing.T) {
	r, _ := newRenderer(t, Options{}, map[string]string{
		"Home/Index": "raw={{name}} html={|name|} missing={{other}}!",
	})

	out, err := r.Render("Home/Index", map[string]string{"name": "<b>"})
	require.NoError(t, err)
	assert.Equal(t, "raw=<b> html=&lt;b&gt; missing=!", out)
}

func TestRender_Markdown(t *testing.T) {
	r, _ := newRenderer(t, Options{}, map[string]string{
		"Home/Index": "<div>{!body!}</div>",
	})

	out, err := r.Render("Home/Index", map[string]string{"body": "**bold**"})
	require.NoError(t, err)
	assert.Equal(t, "<div><p><strong>bold</strong></p></div>", out)

	out, err = r.Render("Home/Index", map[string]string{"body": "<script>alert(1)</script>hi"})
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}

func TestRender_TrimsAndSweeps(t *testing.T) {
	r, _ := newRenderer(t, Options{}, map[string]string{
		"Home/Index": "[{{ a }}][{|b|}][{!c!}][{{ unknown thing }}]",
	})

	out, err := r.Render("Home/Index", map[string]string{"a": "  x  ", "b": "   "})
	require.NoError(t, err)
	assert.Equal(t, "[x][][][]", out)
}

func TestRender_ValuesAreNotRescanned(t *testing.T) {
	r, _ := newRenderer(t, Options{}, map[string]string{
		"Home/Index": "{{a}}",
	})

	out, err := r.Render("Home/Index", map[string]string{"a": "{{b}}", "b": "nope"})
	require.NoError(t, err)
	assert.Equal(t, "{{b}}", out)
}

func TestRender_NotFound(t *testing.T) {
	r, _ := newRenderer(t, Options{}, nil)

	_, err := r.Render("Home/Missing", nil)
	require.Error(t, err)
	assert.True(t, viewerrors.IsNotFound(err))
	assert.True(t, viewerrors.HasCode(err, viewerrors.ErrCodeViewNotFound))
}

func TestRender_DoesNotMutateTemplate(t *testing.T) {
	r, store := newRenderer(t, Options{}, map[string]string{
		"Home/Index": "{{a}}",
	})

	_, err := r.Render("Home/Index", map[string]string{"a": "x"})
	require.NoError(t, err)

	tmpl, _ := store.Get("Home/Index")
	assert.Equal(t, "{{a}}", tmpl.ExpandedText)
}

func TestRender_AntiForgeryReverseOrder(t *testing.T) {
	issuer := &sequenceIssuer{}
	r, _ := newRenderer(t, Options{Memoize: true}, map[string]string{
		"Home/Form": "<form>%%AntiForgeryToken%%</form><form>%%AntiForgeryToken%%</form>",
	})
	r.AddHandler(NewAntiForgeryHandler(issuer, ""))

	out, err := r.Render("Home/Form", nil)
	require.NoError(t, err)
	assert.Equal(t,
		`<form><input type="hidden" name="AntiForgeryToken" value="t2" /></form>`+
			`<form><input type="hidden" name="AntiForgeryToken" value="t1" /></form>`,
		out)

	// claimed templates are never memoized
	out, err = r.Render("Home/Form", nil)
	require.NoError(t, err)
	assert.Contains(t, out, `value="t4"`)
	assert.Contains(t, out, `value="t3"`)
}

func TestRender_AntiForgeryIgnoresMarkerInTagValues(t *testing.T) {
	issuer := &sequenceIssuer{}
	r, _ := newRenderer(t, Options{Memoize: true}, map[string]string{
		"Home/Form":    "<form>%%AntiForgeryToken%%<p>{{Comment}}</p></form>",
		"Home/Comment": "<p>{{Comment}}</p>",
	})
	r.AddHandler(NewAntiForgeryHandler(issuer, ""))
	tags := map[string]string{"Comment": AntiForgeryMarker}

	out, err := r.Render("Home/Form", tags)
	require.NoError(t, err)
	assert.Equal(t,
		`<form><input type="hidden" name="AntiForgeryToken" value="t1" /><p>%%AntiForgeryToken%%</p></form>`,
		out)
	assert.Equal(t, 1, strings.Count(out, "<input"))

	out, err = r.Render("Home/Comment", tags)
	require.NoError(t, err)
	assert.Equal(t, "<p>%%AntiForgeryToken%%</p>", out)
	assert.Equal(t, 1, issuer.next)
}

func TestRender_HandlerFailure(t *testing.T) {
	r, _ := newRenderer(t, Options{}, map[string]string{
		"Home/Form": "%%AntiForgeryToken%%",
	})
	r.AddHandler(NewAntiForgeryHandler(&sequenceIssuer{err: errors.New("no entropy")}, "csrf"))

	_, err := r.Render("Home/Form", nil)
	require.Error(t, err)
	assert.True(t, viewerrors.HasCode(err, viewerrors.ErrCodeRenderHandlerFailure))
}

func TestRender_Memo(t *testing.T) {
	r, store := newRenderer(t, Options{Memoize: true}, map[string]string{
		"Home/Index": "{{a}}",
	})

	out, err := r.Render("Home/Index", map[string]string{"a": "1"})
	require.NoError(t, err)
	assert.Equal(t, "1", out)

	tmpl, _ := store.Get("Home/Index")
	memo, ok := tmpl.LastRendered(TagDigest(map[string]string{"a": "1"}))
	require.True(t, ok)
	assert.Equal(t, "1", memo)

	out, err = r.Render("Home/Index", map[string]string{"a": "2"})
	require.NoError(t, err)
	assert.Equal(t, "2", out)
}

func TestTagDigest(t *testing.T) {
	a := TagDigest(map[string]string{"x": "1", "y": "2"})
	b := TagDigest(map[string]string{"y": "2", "x": "1"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, TagDigest(map[string]string{"ab": "c"}), TagDigest(map[string]string{"a": "bc"}))
	assert.Len(t, a, 64)
}

func TestSweep(t *testing.T) {
	assert.Equal(t, "a b c", Sweep("a{{x}} b{|y|} c{!z!}"))
	assert.Equal(t, "{ not a tag }", Sweep("{ not a tag }"))
}

func TestRender_Concurrent(t *testing.T) {
	r, store := newRenderer(t, Options{Memoize: true}, map[string]string{
		"Home/Index": "old:{{v}}",
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			text := "old:{{v}}"
			if i%2 == 0 {
				text = "new:{{v}}"
			}
			store.Put(&types.CompiledTemplate{FullyQualifiedName: "Home/Index", ExpandedText: text})
		}
	}()

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				v := fmt.Sprint(id)
				out, err := r.Render("Home/Index", map[string]string{"v": v})
				if err != nil {
					t.Error(err)
					return
				}
				if out != "old:"+v && out != "new:"+v {
					t.Errorf("unexpected render %q", out)
					return
				}
			}
		}(g)
	}
	wg.Wait()
}

func TestHTMLEscaper(t *testing.T) {
	assert.Equal(t, "&lt;a href=&#34;x&#34;&gt;&amp;&#39;", HTMLEscaper{}.Encode(`<a href="x">&'`))
	assert.False(t, strings.Contains(HTMLEscaper{}.Encode("<"), "<"))
}
