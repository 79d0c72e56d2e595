package upstream

import (
	"net/http"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
)

// Options configures the upstream executor.
//
// Defaults:
// - Client:  http.DefaultClient
// - Headers: none
//
// Provider must be set (use StaticEndpoints or a custom implementation).
type Options struct {
	Provider EndpointProvider

	Client *http.Client

	// Headers are added to every upstream request.
	Headers http.Header

	Bus    *eventbus.Bus
	Logger *zap.Logger
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Client: http.DefaultClient,
		Logger: zap.NewNop(),
	}
}

func WithProvider(p EndpointProvider) Option { return func(o *Options) { o.Provider = p } }
func WithClient(c *http.Client) Option       { return func(o *Options) { o.Client = c } }
func WithHeaders(h http.Header) Option       { return func(o *Options) { o.Headers = h } }
func WithEventBus(b *eventbus.Bus) Option    { return func(o *Options) { o.Bus = b } }
func WithLogger(l *zap.Logger) Option        { return func(o *Options) { o.Logger = l } }
