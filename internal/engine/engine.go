// Package engine prepares GraphQL operations for execution and hands them to
// an Executor. Preparation parses and validates the query through a bounded
// document cache, resolves the operation to run, and applies the
// introspection and GET mutation gates.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	events "github.com/hanpama/gqlhttp/internal/events"
	httperr "github.com/hanpama/gqlhttp/internal/httperr"
	introspection "github.com/hanpama/gqlhttp/internal/introspection"
	language "github.com/hanpama/gqlhttp/internal/language"
	lru "github.com/hanpama/gqlhttp/internal/lru"
	request "github.com/hanpama/gqlhttp/internal/request"
	result "github.com/hanpama/gqlhttp/internal/result"
)

// Operation is a prepared GraphQL operation.
type Operation struct {
	Params request.Params
	// Document and Definition are nil when the client sent no query text,
	// as with persisted queries.
	Document   *ast.QueryDocument
	Definition *ast.OperationDefinition
	// BatchIndex is the position of the operation in its batch, or -1.
	BatchIndex int
	Request    *http.Request
}

// Type returns the operation type, or "" when unknown.
func (op *Operation) Type() ast.Operation {
	if op.Definition == nil {
		return ""
	}
	return op.Definition.Operation
}

// Executor runs prepared operations. Errors returned by Execute are reported
// to the client as GraphQL errors of that operation.
type Executor interface {
	Execute(ctx context.Context, op *Operation) (result.Outcome, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, op *Operation) (result.Outcome, error)

func (f ExecutorFunc) Execute(ctx context.Context, op *Operation) (result.Outcome, error) {
	return f(ctx, op)
}

type batchIndexKey struct{}

// BatchIndexFromContext returns the batch position of the operation being
// executed, and false outside of a batch.
func BatchIndexFromContext(ctx context.Context) (int, bool) {
	i, ok := ctx.Value(batchIndexKey{}).(int)
	if !ok || i < 0 {
		return 0, false
	}
	return i, true
}

type Options struct {
	// Schema validates documents. Without a schema documents are only parsed.
	Schema *ast.Schema

	// DocumentCacheSize bounds the number of cached parsed documents.
	DocumentCacheSize int

	// Introspection decides per request whether __schema and __type may be
	// selected. Defaults to introspection.Disabled.
	Introspection introspection.Predicate

	// CacheHit and CacheMiss observe the document cache.
	CacheHit, CacheMiss func()

	Bus    *eventbus.Bus
	Logger *zap.Logger
}

type Option func(*Options)

func WithSchema(s *ast.Schema) Option     { return func(o *Options) { o.Schema = s } }
func WithDocumentCacheSize(n int) Option  { return func(o *Options) { o.DocumentCacheSize = n } }
func WithEventBus(b *eventbus.Bus) Option { return func(o *Options) { o.Bus = b } }
func WithLogger(l *zap.Logger) Option     { return func(o *Options) { o.Logger = l } }
func WithCacheHooks(hit, miss func()) Option {
	return func(o *Options) { o.CacheHit, o.CacheMiss = hit, miss }
}
func WithIntrospection(p introspection.Predicate) Option {
	return func(o *Options) { o.Introspection = p }
}

// DefaultDocumentCacheSize is used when Options.DocumentCacheSize is 0.
const DefaultDocumentCacheSize = 1024

// Engine prepares and executes operations. It is safe for concurrent use.
type Engine struct {
	exec Executor
	opt  Options
	docs *lru.Cache[document]
}

// document is a cache entry: a parsed document or the errors that made it
// unusable. Errors are tagged before insertion and never mutated afterwards.
type document struct {
	doc  *ast.QueryDocument
	errs gqlerror.List
}

// New creates an Engine running operations on exec.
func New(exec Executor, opts ...Option) (*Engine, error) {
	op := Options{
		DocumentCacheSize: DefaultDocumentCacheSize,
		Introspection:     introspection.Disabled,
	}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = zap.NewNop()
	}
	if op.Introspection == nil {
		op.Introspection = introspection.Disabled
	}
	docs, err := lru.New[document](op.DocumentCacheSize, lru.WithHitMiss[document](op.CacheHit, op.CacheMiss))
	if err != nil {
		return nil, err
	}
	return &Engine{exec: exec, opt: op, docs: docs}, nil
}

// Prepare builds the Operation for p. A non-nil *result.ExecutionResult
// reports GraphQL errors that prevent execution. A non-nil error terminates
// the whole HTTP request.
func (e *Engine) Prepare(r *http.Request, p request.Params, index int) (*Operation, *result.ExecutionResult, error) {
	op := &Operation{Params: p, BatchIndex: index, Request: r}
	if p.Query == "" {
		return op, nil, nil
	}

	d := e.document(p.Query)
	if len(d.errs) > 0 {
		return nil, &result.ExecutionResult{Errors: d.errs}, nil
	}
	def, gqlErr := language.SelectOperation(d.doc, p.OperationName)
	if gqlErr != nil {
		tagValidation(gqlErr, result.CodeValidationFailed)
		return nil, result.Errors(gqlErr), nil
	}
	op.Document, op.Definition = d.doc, def

	if !e.opt.Introspection(r) {
		if errs := introspection.Check(d.doc, def); len(errs) > 0 {
			for _, err := range errs {
				result.SetCode(err, result.CodeIntrospectionDisabled)
				result.TagHTTP(err, http.StatusBadRequest, false)
			}
			return nil, &result.ExecutionResult{Errors: errs}, nil
		}
	}

	if r != nil && r.Method == http.MethodGet && def.Operation == language.Mutation {
		return nil, nil, httperr.MethodNotAllowed(r.Method, http.MethodPost)
	}
	return op, nil, nil
}

func (e *Engine) document(query string) document {
	if d, ok := e.docs.Get(query); ok {
		return d
	}
	d := e.load(query)
	e.docs.Set(query, d)
	return d
}

func (e *Engine) load(query string) document {
	doc, err := language.ParseQuery(query)
	if err != nil {
		errs := result.AsList(err)
		for _, ge := range errs {
			tagValidation(ge, result.CodeParseFailed)
		}
		return document{errs: errs}
	}
	if e.opt.Schema == nil {
		return document{doc: doc}
	}
	if errs := language.Validate(e.opt.Schema, doc); len(errs) > 0 {
		for _, ge := range errs {
			tagValidation(ge, result.CodeValidationFailed)
		}
		return document{errs: errs}
	}
	return document{doc: doc}
}

func tagValidation(err *gqlerror.Error, code string) {
	result.SetCode(err, code)
	result.TagHTTP(err, http.StatusBadRequest, true)
}

// Execute prepares and runs one operation.
func (e *Engine) Execute(ctx context.Context, r *http.Request, p request.Params, index int) (result.Outcome, error) {
	op, res, err := e.Prepare(r, p, index)
	if err != nil {
		return result.Outcome{}, err
	}
	if res != nil {
		return result.Outcome{Index: index, Result: res}, nil
	}
	return e.run(ctx, op), nil
}

func (e *Engine) run(ctx context.Context, op *Operation) (out result.Outcome) {
	ctx = context.WithValue(ctx, batchIndexKey{}, op.BatchIndex)
	opType := string(op.Type())
	start := time.Now()
	eventbus.Publish(ctx, e.opt.Bus, events.OperationStart{
		Request:       op.Request,
		BatchIndex:    op.BatchIndex,
		Query:         op.Params.Query,
		OperationName: op.Params.OperationName,
		OperationType: opType,
	})
	defer func() {
		if p := recover(); p != nil {
			e.opt.Logger.Error("executor panic",
				zap.Any("panic", p),
				zap.String("operation", op.Params.OperationName),
				zap.ByteString("stack", debug.Stack()))
			gqlErr := gqlerror.Errorf("internal server error")
			result.SetCode(gqlErr, result.CodeInternal)
			out = result.Outcome{Result: result.Errors(gqlErr)}
		}
		out.Index = op.BatchIndex
		fin := events.OperationFinish{
			Request:       op.Request,
			BatchIndex:    op.BatchIndex,
			Query:         op.Params.Query,
			OperationName: op.Params.OperationName,
			OperationType: opType,
			Streaming:     out.Streaming(),
			Duration:      time.Since(start),
		}
		if out.Result != nil {
			fin.Errors = out.Result.Errors
		}
		eventbus.Publish(ctx, e.opt.Bus, fin)
	}()

	out, err := e.exec.Execute(ctx, op)
	switch {
	case err != nil:
		if out.Stream != nil {
			_ = out.Stream.Close()
		}
		return result.Outcome{Result: result.FromError(err)}
	case out.Result == nil && out.Stream == nil:
		return result.Outcome{Result: result.FromError(fmt.Errorf("executor returned no result"))}
	case out.Result != nil && out.Stream != nil:
		_ = out.Stream.Close()
		return result.Outcome{Result: out.Result}
	}
	return out
}

// ExecuteAll runs every operation of parsed. Batch elements run concurrently
// and fail independently; outcomes keep request order.
func (e *Engine) ExecuteAll(ctx context.Context, r *http.Request, parsed request.Parsed) (result.Response, error) {
	if !parsed.Batched {
		out, err := e.Execute(ctx, r, parsed.Operations[0], -1)
		if err != nil {
			return result.Response{}, err
		}
		return result.Response{Outcomes: []result.Outcome{out}}, nil
	}

	outcomes := make([]result.Outcome, len(parsed.Operations))
	var g errgroup.Group
	for i, p := range parsed.Operations {
		g.Go(func() error {
			out, err := e.Execute(ctx, r, p, i)
			if err != nil {
				out = result.Outcome{Index: i, Result: errorResult(err)}
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return result.Response{Outcomes: outcomes, Batched: true}, nil
}

// errorResult reports a request-level error for one batch element.
func errorResult(err error) *result.ExecutionResult {
	gqlErr := gqlerror.Errorf("%s", err.Error())
	if he, ok := httperr.As(err); ok {
		result.SetCode(gqlErr, he.Kind.String())
		result.TagHTTP(gqlErr, he.Status, false)
	}
	return result.Errors(gqlErr)
}
