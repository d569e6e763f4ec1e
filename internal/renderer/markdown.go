package renderer

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday"
	"golang.org/x/net/html"
)

const htmlFlags = blackfriday.HTML_SAFELINK | blackfriday.HTML_NOFOLLOW_LINKS

const markdownExtensions = blackfriday.EXTENSION_NO_INTRA_EMPHASIS |
	blackfriday.EXTENSION_TABLES |
	blackfriday.EXTENSION_AUTOLINK |
	blackfriday.EXTENSION_FENCED_CODE |
	blackfriday.EXTENSION_STRIKETHROUGH

// Markdown renders Markdown with blackfriday and sanitizes the result
// with a bluemonday UGC policy, so tag values cannot inject script.
type Markdown struct {
	policy *bluemonday.Policy
}

// NewMarkdown creates the default Markdown transformer.
func NewMarkdown() *Markdown {
	return &Markdown{
		policy: bluemonday.UGCPolicy(),
	}
}

// ToHTML converts markdown to sanitized HTML without a trailing newline.
func (m *Markdown) ToHTML(markdown string) string {
	// blackfriday's HTML renderer keeps per-document state
	renderer := blackfriday.HtmlRenderer(htmlFlags, "", "")
	out := blackfriday.Markdown([]byte(markdown), renderer, markdownExtensions)
	return strings.TrimRight(m.policy.Sanitize(string(out)), "\n")
}

// HTMLEscaper escapes the characters <, >, &, ' and ".
type HTMLEscaper struct{}

// Encode returns text with HTML special characters escaped.
func (HTMLEscaper) Encode(text string) string {
	return html.EscapeString(text)
}
