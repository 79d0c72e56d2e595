// Package mediatype parses media types and Accept headers.
//
// Accept preferences follow header token order. Quality values are not
// interpreted; `*/*` and a missing header sort last and match everything.
package mediatype

import (
	"strings"

	"github.com/hanpama/gqlhttp/internal/lru"
)

// MediaType is a type/subtype pair. Either part may be "*".
type MediaType struct {
	Type    string
	Subtype string
}

const wildcard = "*"

// Common media types.
var (
	Any                 = MediaType{wildcard, wildcard}
	JSON                = MediaType{"application", "json"}
	GraphQLResponseJSON = MediaType{"application", "graphql-response+json"}
	GraphQL             = MediaType{"application", "graphql"}
	FormURLEncoded      = MediaType{"application", "x-www-form-urlencoded"}
	MultipartFormData   = MediaType{"multipart", "form-data"}
	MultipartMixed      = MediaType{"multipart", "mixed"}
	EventStream         = MediaType{"text", "event-stream"}
	TextPlain           = MediaType{"text", "plain"}
	TextHTML            = MediaType{"text", "html"}
)

// Parse parses a single media type, ignoring parameters. The result is
// lower-cased. A bare "*" is read as "*/*".
func Parse(s string) (MediaType, bool) {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == wildcard {
		return Any, true
	}
	typ, sub, ok := strings.Cut(s, "/")
	if !ok {
		return MediaType{}, false
	}
	typ, sub = strings.TrimSpace(typ), strings.TrimSpace(sub)
	if typ == "" || sub == "" {
		return MediaType{}, false
	}
	if typ == wildcard && sub != wildcard {
		return MediaType{}, false
	}
	return MediaType{Type: typ, Subtype: sub}, true
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) MediaType {
	m, ok := Parse(s)
	if !ok {
		panic("mediatype: invalid media type " + s)
	}
	return m
}

func (m MediaType) String() string { return m.Type + "/" + m.Subtype }

// IsWildcard reports whether m is "*/*".
func (m MediaType) IsWildcard() bool { return m.Type == wildcard && m.Subtype == wildcard }

// Matches reports whether m and other describe compatible media types. A
// wildcard on either side matches.
func (m MediaType) Matches(other MediaType) bool {
	if m.Type != wildcard && other.Type != wildcard && m.Type != other.Type {
		return false
	}
	return m.Subtype == wildcard || other.Subtype == wildcard || m.Subtype == other.Subtype
}

// ParseAccept splits an Accept header into client preferences in header
// order. Full wildcards are moved to the end; an empty header yields a single
// wildcard. Malformed tokens are skipped.
func ParseAccept(header string) []MediaType {
	var (
		out     []MediaType
		sawAny  bool
		nonZero bool
	)
	for _, tok := range strings.Split(header, ",") {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		nonZero = true
		m, ok := Parse(tok)
		if !ok {
			continue
		}
		if m.IsWildcard() {
			sawAny = true
			continue
		}
		out = append(out, m)
	}
	if sawAny || !nonZero {
		out = append(out, Any)
	}
	return out
}

// AcceptCache memoizes ParseAccept results. Returned slices are shared and
// must not be modified.
type AcceptCache struct {
	cache *lru.Cache[[]MediaType]
}

// NewAcceptCache creates a cache holding up to capacity distinct headers.
func NewAcceptCache(capacity int, opts ...lru.Option[[]MediaType]) (*AcceptCache, error) {
	c, err := lru.New[[]MediaType](capacity, opts...)
	if err != nil {
		return nil, err
	}
	return &AcceptCache{cache: c}, nil
}

// Parse returns the preferences for header, computing them at most once per
// cached header value.
func (c *AcceptCache) Parse(header string) []MediaType {
	if c == nil {
		return ParseAccept(header)
	}
	if v, ok := c.cache.Get(header); ok {
		return v
	}
	v := ParseAccept(header)
	c.cache.Set(header, v)
	return v
}

// Len returns the number of cached headers.
func (c *AcceptCache) Len() int { return c.cache.Len() }
