package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	events "github.com/hanpama/gqlhttp/internal/events"
	httperr "github.com/hanpama/gqlhttp/internal/httperr"
	introspection "github.com/hanpama/gqlhttp/internal/introspection"
	request "github.com/hanpama/gqlhttp/internal/request"
	result "github.com/hanpama/gqlhttp/internal/result"
)

var testSchema = gqlparser.MustLoadSchema(&ast.Source{Input: `
type Query { hello(name: String): String, slow(ms: Int): Int }
type Mutation { bump: Int }
type Subscription { ticks: Int }
`})

func echoExecutor(t *testing.T) ExecutorFunc {
	return func(ctx context.Context, op *Operation) (result.Outcome, error) {
		return result.Outcome{Result: &result.ExecutionResult{Data: map[string]any{
			"operation": string(op.Type()),
			"index":     op.BatchIndex,
		}}}, nil
	}
}

func newEngine(t *testing.T, exec Executor, opts ...Option) *Engine {
	t.Helper()
	e, err := New(exec, append([]Option{WithSchema(testSchema)}, opts...)...)
	require.NoError(t, err)
	return e
}

func post() *http.Request { return httptest.NewRequest(http.MethodPost, "/graphql", nil) }

func TestExecuteSingle(t *testing.T) {
	e := newEngine(t, echoExecutor(t))
	out, err := e.Execute(context.Background(), post(), request.Params{Query: "{ hello }"}, -1)
	require.NoError(t, err)
	require.Equal(t, -1, out.Index)
	require.Empty(t, out.Result.Errors)
	require.Equal(t, "query", out.Result.Data.(map[string]any)["operation"])
}

func TestValidationErrorsAreTagged(t *testing.T) {
	var calls atomic.Int32
	exec := ExecutorFunc(func(context.Context, *Operation) (result.Outcome, error) {
		calls.Add(1)
		return result.Outcome{Result: &result.ExecutionResult{}}, nil
	})
	e := newEngine(t, exec)

	for _, q := range []string{"{ nope }", "{ hello ", "query A { hello } query B { hello }"} {
		out, err := e.Execute(context.Background(), post(), request.Params{Query: q}, -1)
		require.NoError(t, err)
		require.NotEmpty(t, out.Result.Errors, q)
		for _, ge := range out.Result.Errors {
			status, spec := result.HTTPStatus(ge)
			require.Equal(t, http.StatusBadRequest, status, q)
			require.True(t, spec, q)
		}
	}
	require.Zero(t, calls.Load())
}

func TestParseErrorCode(t *testing.T) {
	e := newEngine(t, echoExecutor(t))
	out, err := e.Execute(context.Background(), post(), request.Params{Query: "{ hello "}, -1)
	require.NoError(t, err)
	require.Equal(t, result.CodeParseFailed, out.Result.Errors[0].Extensions["code"])

	out, err = e.Execute(context.Background(), post(), request.Params{Query: "{ nope }"}, -1)
	require.NoError(t, err)
	require.Equal(t, result.CodeValidationFailed, out.Result.Errors[0].Extensions["code"])
}

func TestDocumentCache(t *testing.T) {
	var hits, misses atomic.Int32
	e := newEngine(t, echoExecutor(t),
		WithDocumentCacheSize(1),
		WithCacheHooks(func() { hits.Add(1) }, func() { misses.Add(1) }))

	run := func(q string) {
		_, err := e.Execute(context.Background(), post(), request.Params{Query: q}, -1)
		require.NoError(t, err)
	}
	run("{ hello }")
	run("{ hello }")
	run("{ slow }")
	run("{ hello }")
	require.Equal(t, int32(1), hits.Load())
	require.Equal(t, int32(3), misses.Load())
}

func TestIntrospectionGate(t *testing.T) {
	q := request.Params{Query: "{ __schema { queryType { name } } }"}

	e := newEngine(t, echoExecutor(t))
	out, err := e.Execute(context.Background(), post(), q, -1)
	require.NoError(t, err)
	require.Len(t, out.Result.Errors, 1)
	require.Equal(t, result.CodeIntrospectionDisabled, out.Result.Errors[0].Extensions["code"])
	status, spec := result.HTTPStatus(out.Result.Errors[0])
	require.Equal(t, http.StatusBadRequest, status)
	require.False(t, spec)

	allowed := func(r *http.Request) bool { return r.Header.Get("X-Admin") == "1" }
	e = newEngine(t, echoExecutor(t), WithIntrospection(allowed))
	req := post()
	req.Header.Set("X-Admin", "1")
	out, err = e.Execute(context.Background(), req, q, -1)
	require.NoError(t, err)
	require.Empty(t, out.Result.Errors)

	e = newEngine(t, echoExecutor(t), WithIntrospection(introspection.Enabled))
	out, err = e.Execute(context.Background(), post(), q, -1)
	require.NoError(t, err)
	require.Empty(t, out.Result.Errors)
}

func TestMutationOverGET(t *testing.T) {
	e := newEngine(t, echoExecutor(t))
	get := httptest.NewRequest(http.MethodGet, "/graphql", nil)

	_, err := e.Execute(context.Background(), get, request.Params{Query: "mutation { bump }"}, -1)
	he, ok := httperr.As(err)
	require.True(t, ok)
	require.Equal(t, http.StatusMethodNotAllowed, he.Status)
	require.Equal(t, "POST", he.Header.Get("Allow"))

	out, err := e.Execute(context.Background(), get, request.Params{Query: "{ hello }"}, -1)
	require.NoError(t, err)
	require.Empty(t, out.Result.Errors)

	out, err = e.Execute(context.Background(), post(), request.Params{Query: "mutation { bump }"}, -1)
	require.NoError(t, err)
	require.Equal(t, "mutation", out.Result.Data.(map[string]any)["operation"])
}

func TestExecutorErrorsBecomeGraphQLErrors(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, *Operation) (result.Outcome, error) {
		return result.Outcome{}, context.DeadlineExceeded
	})
	e := newEngine(t, exec)
	out, err := e.Execute(context.Background(), post(), request.Params{Query: "{ hello }"}, -1)
	require.NoError(t, err)
	require.Equal(t, context.DeadlineExceeded.Error(), out.Result.Errors[0].Message)
}

func TestExecutorPanicIsRecovered(t *testing.T) {
	exec := ExecutorFunc(func(context.Context, *Operation) (result.Outcome, error) {
		panic("resolver exploded")
	})
	e := newEngine(t, exec)
	out, err := e.Execute(context.Background(), post(), request.Params{Query: "{ hello }"}, 2)
	require.NoError(t, err)
	require.Equal(t, 2, out.Index)
	require.Equal(t, result.CodeInternal, out.Result.Errors[0].Extensions["code"])
}

func TestPersistedQueryReachesExecutor(t *testing.T) {
	var got *Operation
	exec := ExecutorFunc(func(_ context.Context, op *Operation) (result.Outcome, error) {
		got = op
		return result.Outcome{Result: &result.ExecutionResult{}}, nil
	})
	e := newEngine(t, exec)
	p := request.Params{Extensions: map[string]any{"persistedQuery": map[string]any{"sha256Hash": "abc"}}}
	_, err := e.Execute(context.Background(), post(), p, -1)
	require.NoError(t, err)
	require.Nil(t, got.Document)
	require.Equal(t, ast.Operation(""), got.Type())
}

func TestExecuteAllBatchRunsConcurrentlyAndKeepsOrder(t *testing.T) {
	var inflight, peak atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, op *Operation) (result.Outcome, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Duration(3-op.BatchIndex) * 10 * time.Millisecond)
		inflight.Add(-1)
		idx, _ := BatchIndexFromContext(ctx)
		return result.Outcome{Result: &result.ExecutionResult{Data: idx}}, nil
	})
	e := newEngine(t, exec)

	parsed := request.Batch(
		request.Params{Query: "{ hello }"},
		request.Params{Query: "{ nope }"},
		request.Params{Query: "{ slow }"},
		request.Params{Query: "{ hello }"},
	)
	resp, err := e.ExecuteAll(context.Background(), post(), parsed)
	require.NoError(t, err)
	require.True(t, resp.Batched)
	require.Len(t, resp.Outcomes, 4)

	require.Equal(t, 0, resp.Outcomes[0].Result.Data)
	require.NotEmpty(t, resp.Outcomes[1].Result.Errors)
	require.Equal(t, 2, resp.Outcomes[2].Result.Data)
	require.Equal(t, 3, resp.Outcomes[3].Result.Data)
	for i, out := range resp.Outcomes {
		require.Equal(t, i, out.Index)
	}
	require.Greater(t, peak.Load(), int32(1))
}

func TestBatchIndexFromContextOutsideBatch(t *testing.T) {
	var ok bool
	exec := ExecutorFunc(func(ctx context.Context, _ *Operation) (result.Outcome, error) {
		_, ok = BatchIndexFromContext(ctx)
		return result.Outcome{Result: &result.ExecutionResult{}}, nil
	})
	e := newEngine(t, exec)
	_, err := e.ExecuteAll(context.Background(), post(), request.Single(request.Params{Query: "{ hello }"}))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOperationEvents(t *testing.T) {
	bus := eventbus.New()
	var started, finished []events.OperationStart
	var streaming []bool
	eventbus.Subscribe(bus, func(_ context.Context, e events.OperationStart) { started = append(started, e) })
	eventbus.Subscribe(bus, func(_ context.Context, e events.OperationFinish) {
		finished = append(finished, events.OperationStart{OperationType: e.OperationType})
		streaming = append(streaming, e.Streaming)
	})
	exec := ExecutorFunc(func(context.Context, *Operation) (result.Outcome, error) {
		return result.Outcome{Stream: result.FromSlice()}, nil
	})
	e := newEngine(t, exec, WithEventBus(bus))
	_, err := e.Execute(context.Background(), post(), request.Params{Query: "subscription { ticks }"}, -1)
	require.NoError(t, err)

	require.Len(t, started, 1)
	require.Equal(t, "subscription", started[0].OperationType)
	require.Len(t, finished, 1)
	require.Equal(t, []bool{true}, streaming)
}

func TestNoSchemaOnlyParses(t *testing.T) {
	e, err := New(echoExecutor(t))
	require.NoError(t, err)
	out, err := e.Execute(context.Background(), post(), request.Params{Query: "{ anything }"}, -1)
	require.NoError(t, err)
	require.Empty(t, out.Result.Errors)

	out, err = e.Execute(context.Background(), post(), request.Params{Query: "{ anything "}, -1)
	require.NoError(t, err)
	require.NotEmpty(t, out.Result.Errors)
}
