package server

import (
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"go.uber.org/zap"

	encoder "github.com/hanpama/gqlhttp/internal/encoder"
	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	introspection "github.com/hanpama/gqlhttp/internal/introspection"
	request "github.com/hanpama/gqlhttp/internal/request"
	security "github.com/hanpama/gqlhttp/internal/security"
)

type Options struct {
	// Schema validates incoming documents. Without it documents are only
	// parsed and validation is left to the executor.
	Schema *ast.Schema

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// Gzip compresses JSON responses for clients that accept it.
	Gzip bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// MaxUploadMemory is the part of a multipart upload kept in memory.
	MaxUploadMemory int64

	// MaxBatchSize is the largest accepted batch. 0 disables batching.
	MaxBatchSize int

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// CSRF configures the CSRF guard. It is enabled by default.
	CSRF CSRFOptions

	// MetadataHeaders lists HTTP headers to forward into outgoing gRPC
	// style metadata on the execution context. Header names are
	// case-insensitive. Default is none.
	MetadataHeaders []string

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool

	// Introspection decides per request whether introspection is allowed.
	Introspection introspection.Predicate

	// Heartbeat is the SSE keep-alive interval. 0 disables it.
	Heartbeat time.Duration

	// DocumentCacheSize and AcceptCacheSize bound the parse caches.
	DocumentCacheSize int
	AcceptCacheSize   int

	// Cache observers, typically metrics counters.
	DocumentCacheHit, DocumentCacheMiss func()
	AcceptCacheHit, AcceptCacheMiss     func()

	// Parsers are tried before the built-in parsers.
	Parsers []request.Parser

	// Gates run after the method gate and the CSRF guard.
	Gates []security.Gate

	Bus    *eventbus.Bus
	Logger *zap.Logger
}

type Option func(*Options)

func WithSchema(s *ast.Schema) Option    { return func(o *Options) { o.Schema = s } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithGzip() Option                   { return func(o *Options) { o.Gzip = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithMaxUploadMemory(n int64) Option { return func(o *Options) { o.MaxUploadMemory = n } }
func WithMaxBatchSize(n int) Option      { return func(o *Options) { o.MaxBatchSize = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// CSRFOptions configures the CSRF guard.
type CSRFOptions struct {
	Disabled bool
	// Headers accepted as proof of a preflighted request. Defaults to
	// security.DefaultCSRFHeader.
	Headers []string
}

func WithGraphiQL(enable bool) Option { return func(o *Options) { o.GraphiQL = enable } }

// WithCSRFHeaders replaces the headers accepted by the CSRF guard.
func WithCSRFHeaders(headers ...string) Option {
	return func(o *Options) { o.CSRF.Headers = headers }
}

// WithoutCSRFPrevention disables the CSRF guard.
func WithoutCSRFPrevention() Option { return func(o *Options) { o.CSRF.Disabled = true } }

func WithIntrospection(p introspection.Predicate) Option {
	return func(o *Options) { o.Introspection = p }
}

func WithHeartbeat(d time.Duration) Option { return func(o *Options) { o.Heartbeat = d } }

func WithCacheSizes(documents, accept int) Option {
	return func(o *Options) { o.DocumentCacheSize, o.AcceptCacheSize = documents, accept }
}

func WithDocumentCacheHooks(hit, miss func()) Option {
	return func(o *Options) { o.DocumentCacheHit, o.DocumentCacheMiss = hit, miss }
}

func WithAcceptCacheHooks(hit, miss func()) Option {
	return func(o *Options) { o.AcceptCacheHit, o.AcceptCacheMiss = hit, miss }
}

func WithParsers(parsers ...request.Parser) Option {
	return func(o *Options) { o.Parsers = append(o.Parsers, parsers...) }
}

func WithGates(gates ...security.Gate) Option {
	return func(o *Options) { o.Gates = append(o.Gates, gates...) }
}

func WithEventBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }
func WithLogger(l *zap.Logger) Option     { return func(o *Options) { o.Logger = l } }

func defaultOptions() Options {
	return Options{
		GraphiQL:          true,
		Introspection:     introspection.Disabled,
		Heartbeat:         encoder.DefaultHeartbeat,
		DocumentCacheSize: 1024,
		AcceptCacheSize:   encoder.DefaultAcceptCacheSize,
	}
}
