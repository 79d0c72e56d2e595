package request

import (
	"net/http"

	"github.com/hanpama/gqlhttp/internal/httperr"
	"github.com/hanpama/gqlhttp/internal/mediatype"
)

// Parser extracts GraphQL operations from requests it matches.
type Parser interface {
	// Name identifies the parser in logs and events.
	Name() string
	// Match reports whether the parser handles r. It must not read the body.
	Match(r *http.Request) bool
	// Parse extracts the operations of r.
	Parse(r *http.Request) (Parsed, error)
}

type funcParser struct {
	name  string
	match func(*http.Request) bool
	parse func(*http.Request) (Parsed, error)
}

func (p funcParser) Name() string                          { return p.name }
func (p funcParser) Match(r *http.Request) bool            { return p.match(r) }
func (p funcParser) Parse(r *http.Request) (Parsed, error) { return p.parse(r) }

// NewParser builds a Parser from a matcher and a parse function.
func NewParser(name string, match func(*http.Request) bool, parse func(*http.Request) (Parsed, error)) Parser {
	return funcParser{name: name, match: match, parse: parse}
}

// Options tunes the built-in parsers.
type Options struct {
	// MaxBodyBytes caps the (decompressed) request body. 0 means unlimited.
	MaxBodyBytes int64
	// MaxUploadMemory is the part of a multipart body kept in memory before
	// spilling files to disk. Defaults to 32MB.
	MaxUploadMemory int64
}

const defaultMaxUploadMemory = 32 << 20

// Registry is an immutable ordered list of parsers.
type Registry struct {
	parsers []Parser
}

// NewRegistry creates a registry evaluating parsers in the given order.
func NewRegistry(parsers ...Parser) *Registry {
	return &Registry{parsers: append([]Parser(nil), parsers...)}
}

// Default creates a registry with the built-in parsers.
func Default(opt Options) *Registry {
	return NewRegistry(Builtins(opt)...)
}

// Parsers returns the registered parsers in evaluation order.
func (reg *Registry) Parsers() []Parser {
	return append([]Parser(nil), reg.parsers...)
}

// Select returns the parser that handles r, or nil.
func (reg *Registry) Select(r *http.Request) Parser {
	for _, p := range reg.parsers {
		if p.Match(r) {
			return p
		}
	}
	return nil
}

// Parse extracts the operations of r with the first matching parser.
func (reg *Registry) Parse(r *http.Request) (Parsed, error) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		return Parsed{}, httperr.MethodNotAllowed(r.Method, http.MethodGet, http.MethodPost)
	}
	p := reg.Select(r)
	if p == nil {
		if hasBody(r) {
			return Parsed{}, httperr.Parse(nil, "unsupported content type %q", r.Header.Get("Content-Type"))
		}
		return Parsed{}, httperr.Parse(nil, "request body is empty")
	}
	parsed, err := p.Parse(r)
	if err != nil {
		return Parsed{}, err
	}
	if len(parsed.Operations) == 0 {
		return Parsed{}, httperr.Parse(nil, "no operations in request")
	}
	for i := range parsed.Operations {
		if err := checkParams(parsed.Operations[i]); err != nil {
			_ = parsed.Cleanup()
			return Parsed{}, err
		}
	}
	return parsed, nil
}

// checkParams requires a query unless the client refers to a persisted one.
func checkParams(p Params) error {
	if p.Query != "" {
		return nil
	}
	if _, ok := p.Extensions["persistedQuery"]; ok {
		return nil
	}
	return httperr.Parse(nil, "must provide query string")
}

func contentType(r *http.Request) (mediatype.MediaType, bool) {
	return mediatype.Parse(r.Header.Get("Content-Type"))
}

func contentTypeIs(r *http.Request, types ...mediatype.MediaType) bool {
	ct, ok := contentType(r)
	if !ok {
		return false
	}
	for _, t := range types {
		if ct == t {
			return true
		}
	}
	return false
}

func acceptsEventStream(r *http.Request) bool {
	for _, m := range mediatype.ParseAccept(r.Header.Get("Accept")) {
		if m == mediatype.EventStream {
			return true
		}
	}
	return false
}
