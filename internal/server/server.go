package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"

	batch "github.com/hanpama/gqlhttp/internal/batch"
	encoder "github.com/hanpama/gqlhttp/internal/encoder"
	engine "github.com/hanpama/gqlhttp/internal/engine"
	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	events "github.com/hanpama/gqlhttp/internal/events"
	httperr "github.com/hanpama/gqlhttp/internal/httperr"
	mediatype "github.com/hanpama/gqlhttp/internal/mediatype"
	reqid "github.com/hanpama/gqlhttp/internal/reqid"
	request "github.com/hanpama/gqlhttp/internal/request"
	security "github.com/hanpama/gqlhttp/internal/security"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler is an http.Handler that serves a GraphQL endpoint.
// It parses requests, runs the engine, and encodes responses per the
// GraphQL over HTTP conventions negotiated with the client.
type Handler struct {
	engine   *engine.Engine
	parsers  *request.Registry
	encoders *encoder.Registry
	gates    security.Chain
	opt      Options
}

// New creates a new GraphQL HTTP handler executing operations with exec.
func New(exec engine.Executor, opts ...Option) (*Handler, error) {
	op := defaultOptions()
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = zap.NewNop()
	}

	eng, err := engine.New(exec,
		engine.WithSchema(op.Schema),
		engine.WithDocumentCacheSize(op.DocumentCacheSize),
		engine.WithIntrospection(op.Introspection),
		engine.WithCacheHooks(op.DocumentCacheHit, op.DocumentCacheMiss),
		engine.WithEventBus(op.Bus),
		engine.WithLogger(op.Logger),
	)
	if err != nil {
		return nil, err
	}
	encoders, err := encoder.Default(encoder.Options{
		Pretty:          op.Pretty,
		Gzip:            op.Gzip,
		Heartbeat:       op.Heartbeat,
		AcceptCacheSize: op.AcceptCacheSize,
		AcceptCacheHit:  op.AcceptCacheHit,
		AcceptCacheMiss: op.AcceptCacheMiss,
		Bus:             op.Bus,
		Logger:          op.Logger,
	})
	if err != nil {
		return nil, err
	}
	parsers := append(append([]request.Parser(nil), op.Parsers...), request.Builtins(request.Options{
		MaxBodyBytes:    op.MaxBodyBytes,
		MaxUploadMemory: op.MaxUploadMemory,
	})...)

	gates := security.Chain{security.MethodGate}
	if !op.CSRF.Disabled {
		gates = append(gates, security.NewCSRFGuard(op.CSRF.Headers...))
	}
	gates = append(gates, op.Gates...)

	return &Handler{
		engine:   eng,
		parsers:  request.NewRegistry(parsers...),
		encoders: encoders,
		gates:    gates,
		opt:      op,
	}, nil
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx, rid := reqid.FromRequest(r)
	r = r.WithContext(ctx)
	w := &responseWriter{ResponseWriter: rw}
	w.Header().Set(reqid.Header, rid)

	start := time.Now()
	var failure error
	eventbus.Publish(ctx, h.opt.Bus, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, h.opt.Bus, events.HTTPFinish{
			Request:  r,
			Status:   w.status(),
			Bytes:    w.written,
			Err:      failure,
			Duration: time.Since(start),
		})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Serve GraphiQL IDE when enabled and the client expects HTML.
	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r) && r.URL.Query().Get("query") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	if failure = h.serve(ctx, w, r, rid); failure != nil {
		h.fail(w, r, failure)
	}
}

func (h *Handler) serve(ctx context.Context, w *responseWriter, r *http.Request, rid string) error {
	if err := h.gates.Check(r); err != nil {
		return err
	}

	parsed, err := h.parsers.Parse(r)
	if err != nil {
		return err
	}
	defer parsed.Cleanup()

	if err := batch.Check(parsed, h.opt.MaxBatchSize); err != nil {
		return err
	}

	ctx = metadata.NewOutgoingContext(ctx, h.metadata(r, rid))
	resp, err := h.engine.ExecuteAll(ctx, r, parsed)
	if err != nil {
		return err
	}
	return h.encoders.Encode(w, r, resp)
}

// metadata maps the configured headers into outgoing metadata.
func (h *Handler) metadata(r *http.Request, rid string) metadata.MD {
	md := metadata.MD{}
	if len(h.opt.MetadataHeaders) > 0 {
		allowed := make(map[string]struct{}, len(h.opt.MetadataHeaders))
		for _, hdr := range h.opt.MetadataHeaders {
			allowed[strings.ToLower(hdr)] = struct{}{}
		}
		for k, v := range r.Header {
			if _, ok := allowed[strings.ToLower(k)]; ok {
				md[strings.ToLower(k)] = v
			}
		}
	}
	md["graphql-request-id"] = []string{rid}
	return md
}

// fail renders err unless the response is already under way.
func (h *Handler) fail(w *responseWriter, r *http.Request, err error) {
	if w.wroteHeader {
		if r.Context().Err() == nil {
			h.opt.Logger.Warn("response aborted", zap.Error(err), zap.String("path", r.URL.Path))
		}
		return
	}
	he, ok := httperr.As(err)
	if !ok {
		h.opt.Logger.Error("request failed", zap.Error(err), zap.String("path", r.URL.Path))
		writeError(w, http.StatusInternalServerError, nil, "internal server error", "INTERNAL_SERVER_ERROR", h.opt.Pretty)
		return
	}
	writeError(w, he.Status, he.Header, he.Message, he.Kind.String(), h.opt.Pretty)
}

// ------------------ Response formatting ------------------

type specError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type specResult struct {
	Errors []specError `json:"errors"`
}

func writeError(w http.ResponseWriter, status int, header http.Header, message, code string, pretty bool) {
	for k, v := range header {
		w.Header()[k] = v
	}
	writeJSON(w, status, specResult{Errors: []specError{{
		Message:    message,
		Extensions: map[string]any{"code": code},
	}}}, pretty)
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// acceptsHTML reports whether the client explicitly asks for HTML.
func acceptsHTML(r *http.Request) bool {
	for _, m := range mediatype.ParseAccept(r.Header.Get("Accept")) {
		if m == mediatype.TextHTML {
			return true
		}
	}
	return false
}
