// Package encoder turns execution results into HTTP responses. A Registry
// negotiates the encoder from the Accept header and the shape of the result:
// synchronous results need a non-streaming encoder, responses containing a
// Stream need a streaming one.
package encoder

import (
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	httperr "github.com/hanpama/gqlhttp/internal/httperr"
	lru "github.com/hanpama/gqlhttp/internal/lru"
	mediatype "github.com/hanpama/gqlhttp/internal/mediatype"
	result "github.com/hanpama/gqlhttp/internal/result"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encoder writes a response for one result shape.
type Encoder interface {
	// MediaTypes lists the media types the encoder produces, preferred first.
	MediaTypes() []mediatype.MediaType
	// Streaming reports whether the encoder serves responses with streams.
	Streaming() bool
	// Encode writes resp using the negotiated media type mt. Encoders close
	// every stream of resp before returning.
	Encode(w http.ResponseWriter, r *http.Request, resp result.Response, mt mediatype.MediaType) error
}

// Registry is an immutable ordered list of encoders.
type Registry struct {
	encoders []Encoder
	accept   *mediatype.AcceptCache
	fallback Encoder
}

// NewRegistry creates a registry trying encoders in the given order. The
// first non-streaming encoder is the fallback for synchronous results.
func NewRegistry(accept *mediatype.AcceptCache, encoders ...Encoder) *Registry {
	reg := &Registry{encoders: append([]Encoder(nil), encoders...), accept: accept}
	for _, e := range encoders {
		if !e.Streaming() {
			reg.fallback = e
			break
		}
	}
	return reg
}

// Options configures the built-in encoders.
type Options struct {
	// Pretty indents JSON bodies.
	Pretty bool
	// Gzip compresses JSON bodies for clients accepting gzip.
	Gzip bool
	// Heartbeat is the interval of SSE keep-alive comments. 0 disables them.
	Heartbeat time.Duration
	// AcceptCacheSize bounds the memoized Accept header parses.
	AcceptCacheSize int
	// AcceptCacheHit and AcceptCacheMiss observe the Accept cache.
	AcceptCacheHit, AcceptCacheMiss func()

	Bus    *eventbus.Bus
	Logger *zap.Logger
}

// DefaultHeartbeat is the SSE keep-alive interval used by the server.
const DefaultHeartbeat = 12 * time.Second

// DefaultAcceptCacheSize is used when Options.AcceptCacheSize is 0.
const DefaultAcceptCacheSize = 256

// Default creates a registry with the JSON, multipart and SSE encoders, in
// that order.
func Default(opt Options) (*Registry, error) {
	if opt.AcceptCacheSize == 0 {
		opt.AcceptCacheSize = DefaultAcceptCacheSize
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	accept, err := mediatype.NewAcceptCache(opt.AcceptCacheSize,
		lru.WithHitMiss[[]mediatype.MediaType](opt.AcceptCacheHit, opt.AcceptCacheMiss))
	if err != nil {
		return nil, err
	}
	return NewRegistry(accept,
		&JSON{Pretty: opt.Pretty, Gzip: opt.Gzip},
		&Multipart{Bus: opt.Bus, Logger: opt.Logger},
		&SSE{Heartbeat: opt.Heartbeat, Bus: opt.Bus, Logger: opt.Logger},
	), nil
}

// Encoders returns the registered encoders in negotiation order.
func (reg *Registry) Encoders() []Encoder {
	return append([]Encoder(nil), reg.encoders...)
}

// Select picks the encoder for r and the result shape. For synchronous
// results it falls back to the first non-streaming encoder; for streaming
// results without a match it returns a NotAcceptable error.
func (reg *Registry) Select(r *http.Request, streaming bool) (Encoder, mediatype.MediaType, error) {
	header := r.Header.Get("Accept")
	for _, pref := range reg.accept.Parse(header) {
		for _, e := range reg.encoders {
			if e.Streaming() != streaming {
				continue
			}
			for _, mt := range e.MediaTypes() {
				if pref.Matches(mt) {
					return e, mt, nil
				}
			}
		}
	}
	if !streaming && reg.fallback != nil {
		return reg.fallback, reg.fallback.MediaTypes()[0], nil
	}
	return nil, mediatype.MediaType{}, httperr.NotAcceptable(header)
}

// Encode negotiates an encoder for resp and writes it. When no encoder
// qualifies, every stream of resp is closed and the NotAcceptable error is
// returned without writing anything.
func (reg *Registry) Encode(w http.ResponseWriter, r *http.Request, resp result.Response) error {
	e, mt, err := reg.Select(r, resp.Streaming())
	if err != nil {
		_ = resp.Close()
		return err
	}
	return e.Encode(w, r, resp, mt)
}
