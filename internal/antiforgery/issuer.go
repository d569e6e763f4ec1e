// Package antiforgery issues and validates single-use anti-forgery tokens.
package antiforgery

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/gorilla/securecookie"

	viewerrors "github.com/conneroisu/vellum/internal/errors"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = time.Hour

// tokenBytes is the amount of randomness in a token.
const tokenBytes = 32

type issued struct {
	kind    string
	expires time.Time
}

// Issuer is a process-wide registry of issued tokens. It is safe for
// concurrent use by many renders. Expired tokens are swept from IssueToken
// at most once per TTL, so tokens that are never validated do not pile up.
type Issuer struct {
	tokens    map[string]issued
	mutex     sync.RWMutex
	ttl       time.Duration
	nextPrune time.Time
	now       func() time.Time
}

// NewIssuer creates an issuer whose tokens expire after ttl.
func NewIssuer(ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		tokens: make(map[string]issued),
		ttl:    ttl,
		now:    time.Now,
	}
}

// IssueToken mints a new token for kind and records it.
func (i *Issuer) IssueToken(kind string) (string, error) {
	key := securecookie.GenerateRandomKey(tokenBytes)
	if key == nil {
		return "", viewerrors.NewInternalError(viewerrors.ErrCodeTokenUnavailable,
			"random source unavailable for anti-forgery token", nil)
	}
	token := base64.RawURLEncoding.EncodeToString(key)

	i.mutex.Lock()
	defer i.mutex.Unlock()

	now := i.now()
	if !now.Before(i.nextPrune) {
		i.prune(now)
		i.nextPrune = now.Add(i.ttl)
	}
	i.tokens[token] = issued{kind: kind, expires: now.Add(i.ttl)}
	return token, nil
}

// Validate consumes token and reports whether it was issued, unused and
// unexpired.
func (i *Issuer) Validate(token string) bool {
	return i.validate(token, "", false)
}

// ValidateKind is Validate that also requires the token was issued for
// kind.
func (i *Issuer) ValidateKind(token, kind string) bool {
	return i.validate(token, kind, true)
}

func (i *Issuer) validate(token, kind string, checkKind bool) bool {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	entry, ok := i.tokens[token]
	if !ok {
		return false
	}
	delete(i.tokens, token)

	if i.now().After(entry.expires) {
		return false
	}
	return !checkKind || entry.kind == kind
}

// Prune drops expired tokens and returns how many were removed.
func (i *Issuer) Prune() int {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	return i.prune(i.now())
}

func (i *Issuer) prune(now time.Time) int {
	removed := 0
	for token, entry := range i.tokens {
		if now.After(entry.expires) {
			delete(i.tokens, token)
			removed++
		}
	}
	return removed
}

// Outstanding returns the number of tokens issued and not yet consumed.
func (i *Issuer) Outstanding() int {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	return len(i.tokens)
}
