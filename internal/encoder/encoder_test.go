package encoder

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	httperr "github.com/hanpama/gqlhttp/internal/httperr"
	mediatype "github.com/hanpama/gqlhttp/internal/mediatype"
	result "github.com/hanpama/gqlhttp/internal/result"
)

// flushRecorder records the bytes written between two flushes as one chunk.
type flushRecorder struct {
	*httptest.ResponseRecorder
	mu      sync.Mutex
	flushed int
	chunks  []string
	onFlush func(chunk string, n int)
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (f *flushRecorder) Flush() {
	f.mu.Lock()
	body := f.Body.String()
	chunk := body[f.flushed:]
	f.flushed = len(body)
	f.chunks = append(f.chunks, chunk)
	n := len(f.chunks)
	hook := f.onFlush
	f.mu.Unlock()
	f.ResponseRecorder.Flush()
	if hook != nil {
		hook(chunk, n)
	}
}

func (f *flushRecorder) nonEmptyChunks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.chunks {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// countingStream yields n payloads lazily and records pulls and closes.
type countingStream struct {
	n      int
	pulls  atomic.Int32
	closes atomic.Int32
}

func (s *countingStream) Next(ctx context.Context) (*result.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := int(s.pulls.Add(1))
	if i > s.n {
		return nil, io.EOF
	}
	return &result.ExecutionResult{Data: map[string]any{"n": i}}, nil
}

func (s *countingStream) Close() error {
	s.closes.Add(1)
	return nil
}

func newRegistry(t *testing.T, opt Options) *Registry {
	t.Helper()
	reg, err := Default(opt)
	require.NoError(t, err)
	return reg
}

func requestWithAccept(accept string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	if accept != "" {
		r.Header.Set("Accept", accept)
	}
	return r
}

func TestSelect(t *testing.T) {
	reg := newRegistry(t, Options{})
	cases := []struct {
		accept    string
		streaming bool
		want      string
	}{
		{"", false, "application/graphql-response+json"},
		{"application/json", false, "application/json"},
		{"application/graphql-response+json, application/json", false, "application/graphql-response+json"},
		{"application/json, application/graphql-response+json", false, "application/json"},
		{"*/*", false, "application/graphql-response+json"},
		{"text/event-stream", false, "application/graphql-response+json"},
		{"text/html", false, "application/graphql-response+json"},
		{"multipart/mixed", true, "multipart/mixed"},
		{"text/event-stream", true, "text/event-stream"},
		{"text/event-stream, multipart/mixed", true, "text/event-stream"},
		{"multipart/mixed, text/event-stream", true, "multipart/mixed"},
		{"*/*, text/event-stream", true, "text/event-stream"},
		{"*/*", true, "multipart/mixed"},
		{"", true, "multipart/mixed"},
		{"text/*", true, "text/event-stream"},
		{"application/json, multipart/mixed;deferSpec=20220824", true, "multipart/mixed"},
	}
	for _, tc := range cases {
		for i := 0; i < 2; i++ {
			_, mt, err := reg.Select(requestWithAccept(tc.accept), tc.streaming)
			require.NoError(t, err, tc.accept)
			require.Equal(t, tc.want, mt.String(), "accept %q streaming %v", tc.accept, tc.streaming)
		}
	}
}

func TestSelectStreamingNotAcceptable(t *testing.T) {
	reg := newRegistry(t, Options{})
	_, _, err := reg.Select(requestWithAccept("application/json"), true)
	he, ok := httperr.As(err)
	require.True(t, ok)
	require.Equal(t, http.StatusNotAcceptable, he.Status)
}

func TestEncodeNotAcceptableClosesStreams(t *testing.T) {
	reg := newRegistry(t, Options{})
	a, b := &countingStream{n: 1}, &countingStream{n: 1}
	resp := result.Response{Batched: true, Outcomes: []result.Outcome{
		{Index: 0, Stream: a},
		{Index: 1, Result: &result.ExecutionResult{}},
		{Index: 2, Stream: b},
	}}
	w := httptest.NewRecorder()
	err := reg.Encode(w, requestWithAccept("application/graphql-response+json"), resp)
	require.Equal(t, http.StatusNotAcceptable, httperr.StatusOf(err))
	require.Equal(t, int32(1), a.closes.Load())
	require.Equal(t, int32(1), b.closes.Load())
	require.Zero(t, a.pulls.Load())
	require.Zero(t, w.Body.Len())
}

func TestAcceptCacheHooks(t *testing.T) {
	var hits, misses atomic.Int32
	reg := newRegistry(t, Options{
		AcceptCacheHit:  func() { hits.Add(1) },
		AcceptCacheMiss: func() { misses.Add(1) },
	})
	for i := 0; i < 3; i++ {
		_, _, err := reg.Select(requestWithAccept("application/json"), false)
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), hits.Load())
	require.Equal(t, int32(1), misses.Load())
}

func validationFailure() *result.ExecutionResult {
	ge := gqlerror.Errorf("Cannot query field \"nope\" on type \"Query\".")
	result.TagHTTP(ge, http.StatusBadRequest, true)
	return result.Errors(ge)
}

func TestJSONStatus(t *testing.T) {
	reg := newRegistry(t, Options{})
	cases := []struct {
		accept string
		res    *result.ExecutionResult
		status int
		ctype  string
	}{
		{"application/graphql-response+json", &result.ExecutionResult{Data: map[string]any{"a": 1}}, 200, "application/graphql-response+json; charset=utf-8"},
		{"application/graphql-response+json", validationFailure(), 400, "application/graphql-response+json; charset=utf-8"},
		{"application/json", validationFailure(), 200, "application/json; charset=utf-8"},
		{"", validationFailure(), 400, "application/graphql-response+json; charset=utf-8"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		require.NoError(t, reg.Encode(w, requestWithAccept(tc.accept), result.Single(result.Outcome{Result: tc.res})))
		require.Equal(t, tc.status, w.Code, tc.accept)
		require.Equal(t, tc.ctype, w.Header().Get("Content-Type"))
		require.Equal(t, w.Header().Get("Content-Length"), strconv.Itoa(w.Body.Len()))
	}
}

func TestJSONNonSpecStatusAppliesToLegacyClients(t *testing.T) {
	ge := gqlerror.Errorf("unauthorized")
	result.TagHTTP(ge, http.StatusUnauthorized, false)
	ge.Extensions["http"].(map[string]any)["headers"] = map[string]any{"WWW-Authenticate": "Bearer"}

	w := httptest.NewRecorder()
	reg := newRegistry(t, Options{})
	require.NoError(t, reg.Encode(w, requestWithAccept("application/json"), result.Single(result.Outcome{Result: result.Errors(ge)})))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestJSONBatchAndMaxStatus(t *testing.T) {
	ge := gqlerror.Errorf("forbidden")
	result.TagHTTP(ge, http.StatusForbidden, false)
	resp := result.Response{Batched: true, Outcomes: []result.Outcome{
		{Index: 0, Result: &result.ExecutionResult{Data: map[string]any{"a": 1}}},
		{Index: 1, Result: validationFailure()},
		{Index: 2, Result: result.Errors(ge)},
	}}
	w := httptest.NewRecorder()
	require.NoError(t, newRegistry(t, Options{}).Encode(w, requestWithAccept(""), resp))
	require.Equal(t, http.StatusForbidden, w.Code)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body, 3)
	require.Equal(t, map[string]any{"a": float64(1)}, body[0]["data"])
	require.Contains(t, body[1], "errors")
	require.NotContains(t, body[1], "data")
}

func TestJSONGzipAndPretty(t *testing.T) {
	reg := newRegistry(t, Options{Gzip: true, Pretty: true})
	r := requestWithAccept("application/json")
	r.Header.Set("Accept-Encoding", "br, gzip;q=0.8")
	w := httptest.NewRecorder()
	require.NoError(t, reg.Encode(w, r, result.Single(result.Outcome{Result: &result.ExecutionResult{Data: map[string]any{"hello": "world"}}})))

	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.JSONEq(t, `{"data":{"hello":"world"}}`, string(plain))
	require.Contains(t, string(plain), "\n  \"data\"")

	w = httptest.NewRecorder()
	require.NoError(t, reg.Encode(w, requestWithAccept("application/json"), result.Single(result.Outcome{Result: &result.ExecutionResult{}})))
	require.Empty(t, w.Header().Get("Content-Encoding"))
}

func multipartPart(body string) string {
	return "\r\nContent-Type: application/json; charset=utf-8\r\nContent-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body + "\r\n---"
}

func TestMultipartDeferredPayloads(t *testing.T) {
	initial := &result.ExecutionResult{Data: map[string]any{"a": 1}, HasNext: result.Bool(true)}
	patch := &result.ExecutionResult{
		HasNext:     result.Bool(false),
		Incremental: []result.Incremental{{Data: map[string]any{"b": 2}, Path: ast.Path{ast.PathName("a")}}},
	}
	s := result.FromSlice(initial, patch)
	w := newFlushRecorder()
	r := requestWithAccept("multipart/mixed")

	require.NoError(t, newRegistry(t, Options{}).Encode(w, r, result.Single(result.Outcome{Stream: s})))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, `multipart/mixed; boundary="-"`, w.Header().Get("Content-Type"))

	first := `{"data":{"a":1},"hasNext":true}`
	second := `{"hasNext":false,"incremental":[{"data":{"b":2},"path":["a"]}]}`
	chunks := w.nonEmptyChunks()
	require.Equal(t, []string{"\r\n---", multipartPart(first), multipartPart(second), "--\r\n"}, chunks)
	require.Equal(t, "\r\n---"+multipartPart(first)+multipartPart(second)+"--\r\n", w.Body.String())
}

func TestMultipartSourceErrorBecomesPart(t *testing.T) {
	calls := 0
	s := result.Func{NextFunc: func(context.Context) (*result.ExecutionResult, error) {
		calls++
		if calls == 1 {
			return &result.ExecutionResult{Data: 1, HasNext: result.Bool(true)}, nil
		}
		return nil, io.ErrUnexpectedEOF
	}}
	w := newFlushRecorder()
	require.NoError(t, newRegistry(t, Options{}).Encode(w, requestWithAccept("multipart/mixed"), result.Single(result.Outcome{Stream: s})))
	require.Contains(t, w.Body.String(), `{"errors":[{"message":"unexpected EOF"}]}`)
	require.True(t, strings.HasSuffix(w.Body.String(), "---\r\n"))
}

func TestMultipartBatchMixesSyncAndStream(t *testing.T) {
	resp := result.Response{Batched: true, Outcomes: []result.Outcome{
		{Index: 0, Result: &result.ExecutionResult{Data: "sync"}},
		{Index: 1, Stream: &countingStream{n: 2}},
	}}
	w := newFlushRecorder()
	require.NoError(t, newRegistry(t, Options{}).Encode(w, requestWithAccept("multipart/mixed"), resp))
	body := w.Body.String()
	require.Equal(t, 3, strings.Count(body, "Content-Type: application/json"))
	require.Less(t, strings.Index(body, `"sync"`), strings.Index(body, `"n":1`))
}

func TestSSEEvents(t *testing.T) {
	s := &countingStream{n: 3}
	w := newFlushRecorder()
	require.NoError(t, newRegistry(t, Options{}).Encode(w, requestWithAccept("text/event-stream"), result.Single(result.Outcome{Stream: s})))

	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	require.Equal(t, "keep-alive", w.Header().Get("Connection"))
	require.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
	require.Equal(t, "none", w.Header().Get("Content-Encoding"))

	want := "event: next\ndata: {\"data\":{\"n\":1}}\n\n" +
		"event: next\ndata: {\"data\":{\"n\":2}}\n\n" +
		"event: next\ndata: {\"data\":{\"n\":3}}\n\n" +
		"event: complete\n\n"
	require.Equal(t, want, w.Body.String())
	require.Equal(t, int32(1), s.closes.Load())
}

func TestSSEBatchSingleComplete(t *testing.T) {
	resp := result.Response{Batched: true, Outcomes: []result.Outcome{
		{Index: 0, Stream: &countingStream{n: 1}},
		{Index: 1, Result: &result.ExecutionResult{Data: "second"}},
	}}
	w := newFlushRecorder()
	require.NoError(t, newRegistry(t, Options{}).Encode(w, requestWithAccept("text/event-stream"), resp))
	body := w.Body.String()
	require.Equal(t, 2, strings.Count(body, "event: next"))
	require.Equal(t, 1, strings.Count(body, "event: complete"))
	require.Less(t, strings.Index(body, `"n":1`), strings.Index(body, `"second"`))
}

func TestSSEAbortAfterSecondValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &countingStream{n: 100}
	w := newFlushRecorder()
	nexts := 0
	w.onFlush = func(chunk string, _ int) {
		if strings.HasPrefix(chunk, "event: next") {
			nexts++
			if nexts == 2 {
				cancel()
			}
		}
	}
	r := requestWithAccept("text/event-stream").WithContext(ctx)

	err := newRegistry(t, Options{}).Encode(w, r, result.Single(result.Outcome{Stream: s}))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(2), s.pulls.Load())
	require.Equal(t, int32(1), s.closes.Load())
	require.Equal(t, 2, strings.Count(w.Body.String(), "event: next"))
	require.NotContains(t, w.Body.String(), "event: complete")
}

func TestSSEHeartbeat(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	pulls := 0
	s := result.Func{NextFunc: func(ctx context.Context) (*result.ExecutionResult, error) {
		pulls++
		if pulls > 1 {
			return nil, io.EOF
		}
		select {
		case <-release:
			return &result.ExecutionResult{Data: "late"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, io.ErrNoProgress
		}
	}}
	w := newFlushRecorder()
	w.onFlush = func(chunk string, _ int) {
		if chunk == ":\n\n" {
			once.Do(func() { close(release) })
		}
	}
	require.NoError(t, newRegistry(t, Options{Heartbeat: time.Millisecond}).Encode(w, requestWithAccept("text/event-stream"), result.Single(result.Outcome{Stream: s})))

	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, ":\n\n"), body)
	require.Contains(t, body, `data: {"data":"late"}`)
	require.True(t, strings.HasSuffix(body, "event: complete\n\n"))
}

func TestSSEHeartbeatDisabled(t *testing.T) {
	s := result.Func{NextFunc: func(ctx context.Context) (*result.ExecutionResult, error) {
		time.Sleep(20 * time.Millisecond)
		return nil, io.EOF
	}}
	w := newFlushRecorder()
	require.NoError(t, newRegistry(t, Options{}).Encode(w, requestWithAccept("text/event-stream"), result.Single(result.Outcome{Stream: s})))
	require.Equal(t, "event: complete\n\n", w.Body.String())
}

func TestEncodersExposeMediaTypes(t *testing.T) {
	reg := newRegistry(t, Options{})
	var got []string
	for _, e := range reg.Encoders() {
		for _, mt := range e.MediaTypes() {
			got = append(got, mt.String())
		}
	}
	require.Equal(t, []string{
		mediatype.GraphQLResponseJSON.String(),
		mediatype.JSON.String(),
		mediatype.MultipartMixed.String(),
		mediatype.EventStream.String(),
	}, got)
}
