package renderer

import (
	"strings"

	"golang.org/x/net/html"
)

// AntiForgeryMarker is replaced by a hidden input carrying a fresh token.
const AntiForgeryMarker = "%%AntiForgeryToken%%"

// DefaultAntiForgeryField is the form field name of the hidden input.
const DefaultAntiForgeryField = "AntiForgeryToken"

// TokenIssuer mints single-use tokens.
type TokenIssuer interface {
	IssueToken(kind string) (string, error)
}

// AntiForgeryHandler injects anti-forgery tokens at render time.
type AntiForgeryHandler struct {
	issuer TokenIssuer
	field  string
}

// NewAntiForgeryHandler creates a handler minting tokens from issuer.
func NewAntiForgeryHandler(issuer TokenIssuer, field string) *AntiForgeryHandler {
	if field == "" {
		field = DefaultAntiForgeryField
	}
	return &AntiForgeryHandler{issuer: issuer, field: field}
}

func (h *AntiForgeryHandler) Name() string { return "antiforgery" }

func (h *AntiForgeryHandler) Claims(text string) bool {
	return strings.Contains(text, AntiForgeryMarker)
}

// Apply replaces every marker, last occurrence first, so the offsets of
// markers not yet replaced stay valid.
func (h *AntiForgeryHandler) Apply(text string) (string, error) {
	var offsets []int
	for start := 0; ; {
		i := strings.Index(text[start:], AntiForgeryMarker)
		if i < 0 {
			break
		}
		offsets = append(offsets, start+i)
		start += i + len(AntiForgeryMarker)
	}

	for i := len(offsets) - 1; i >= 0; i-- {
		token, err := h.issuer.IssueToken(h.field)
		if err != nil {
			return "", err
		}
		at := offsets[i]
		text = text[:at] + h.input(token) + text[at+len(AntiForgeryMarker):]
	}
	return text, nil
}

func (h *AntiForgeryHandler) input(token string) string {
	return `<input type="hidden" name="` + html.EscapeString(h.field) +
		`" value="` + html.EscapeString(token) + `" />`
}
