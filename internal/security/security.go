// Package security holds the request gates evaluated before a request body is
// read. Each gate may terminate the request with an *httperr.Error.
package security

import (
	"net/http"

	"github.com/hanpama/gqlhttp/internal/httperr"
	"github.com/hanpama/gqlhttp/internal/mediatype"
)

// Gate inspects a request before parsing.
type Gate interface {
	Check(r *http.Request) error
}

// GateFunc adapts a function to Gate.
type GateFunc func(r *http.Request) error

func (f GateFunc) Check(r *http.Request) error { return f(r) }

// Chain runs gates in order and returns the first error.
type Chain []Gate

func (c Chain) Check(r *http.Request) error {
	for _, g := range c {
		if err := g.Check(r); err != nil {
			return err
		}
	}
	return nil
}

// MethodGate admits GET and POST.
var MethodGate Gate = GateFunc(func(r *http.Request) error {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
		return nil
	}
	return httperr.MethodNotAllowed(r.Method, http.MethodGet, http.MethodPost)
})

// DefaultCSRFHeader is the header accepted by CSRFGuard when none is configured.
const DefaultCSRFHeader = "x-graphql-yoga-csrf"

// CSRFGuard rejects simple requests, the ones a browser sends cross-origin
// without a preflight, unless they carry one of Headers.
type CSRFGuard struct {
	Headers []string
}

// NewCSRFGuard returns a guard accepting any of headers, or
// DefaultCSRFHeader when headers is empty.
func NewCSRFGuard(headers ...string) *CSRFGuard {
	if len(headers) == 0 {
		headers = []string{DefaultCSRFHeader}
	}
	return &CSRFGuard{Headers: headers}
}

func (g *CSRFGuard) Check(r *http.Request) error {
	if !IsSimple(r) {
		return nil
	}
	for _, h := range g.Headers {
		if r.Header.Get(h) != "" {
			return nil
		}
	}
	return httperr.CSRFRejected(g.Headers)
}

var simpleContentTypes = []mediatype.MediaType{
	mediatype.TextPlain,
	mediatype.FormURLEncoded,
	mediatype.MultipartFormData,
}

// IsSimple reports whether r could be sent cross-origin without a CORS
// preflight: every GET, and POSTs with no content type or one of the
// form-compatible content types.
func IsSimple(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet:
		return true
	case http.MethodPost:
	default:
		return false
	}
	raw := r.Header.Get("Content-Type")
	if raw == "" {
		return true
	}
	ct, ok := mediatype.Parse(raw)
	if !ok {
		return false
	}
	for _, t := range simpleContentTypes {
		if ct == t {
			return true
		}
	}
	return false
}
