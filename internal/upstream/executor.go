// Package upstream executes GraphQL operations by forwarding them to a remote
// GraphQL server over HTTP. JSON, multipart/mixed and text/event-stream
// responses are decoded back into results and streams.
package upstream

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"

	engine "github.com/hanpama/gqlhttp/internal/engine"
	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	events "github.com/hanpama/gqlhttp/internal/events"
	language "github.com/hanpama/gqlhttp/internal/language"
	mediatype "github.com/hanpama/gqlhttp/internal/mediatype"
	reqid "github.com/hanpama/gqlhttp/internal/reqid"
	request "github.com/hanpama/gqlhttp/internal/request"
	result "github.com/hanpama/gqlhttp/internal/result"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Accept headers sent upstream.
const (
	AcceptSubscription = "text/event-stream"
	AcceptDefault      = "application/graphql-response+json, application/json, multipart/mixed"
)

// Executor forwards operations to an upstream GraphQL server.
type Executor struct {
	opts   *Options
	closed atomic.Bool
}

var _ engine.Executor = (*Executor)(nil)

func New(opts ...Option) *Executor {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Executor{opts: o}
}

// Execute sends op to one of the provider's endpoints. Outgoing metadata on
// ctx is forwarded as request headers.
func (e *Executor) Execute(ctx context.Context, op *engine.Operation) (result.Outcome, error) {
	if e.closed.Load() {
		return result.Outcome{}, errors.New("upstream: closed")
	}
	if e.opts.Provider == nil {
		return result.Outcome{}, errors.New("upstream: provider not configured")
	}
	endpoints, err := e.opts.Provider.Endpoints(ctx)
	if err != nil {
		return result.Outcome{}, err
	}
	if len(endpoints) == 0 {
		return result.Outcome{}, ErrNoEndpoints
	}
	target := endpoints[rand.Intn(len(endpoints))]

	req, err := e.newRequest(ctx, target, op)
	if err != nil {
		return result.Outcome{}, err
	}

	start := time.Now()
	eventbus.Publish(ctx, e.opts.Bus, events.UpstreamStart{Target: target, OperationName: op.Params.OperationName})
	resp, err := e.opts.Client.Do(req)
	finish := events.UpstreamFinish{
		Target:        target,
		OperationName: op.Params.OperationName,
		Err:           err,
		Duration:      time.Since(start),
	}
	if resp != nil {
		finish.Status = resp.StatusCode
		finish.ContentType = resp.Header.Get("Content-Type")
	}
	eventbus.Publish(ctx, e.opts.Bus, finish)
	if err != nil {
		return result.Outcome{}, errors.Wrap(err, "upstream request")
	}
	return e.decode(ctx, resp)
}

// Close makes further calls to Execute fail. Streams already returned stay
// open until their consumer closes them.
func (e *Executor) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *Executor) newRequest(ctx context.Context, target string, op *engine.Operation) (*http.Request, error) {
	parsed := request.Single(op.Params)
	var (
		req *http.Request
		err error
	)
	if request.HasUploads(parsed) {
		req, err = request.NewMultipart(ctx, target, parsed)
	} else {
		req, err = request.NewJSON(ctx, target, parsed)
	}
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}

	for k, vs := range e.opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		for k, vs := range md {
			req.Header.Del(k)
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	if rid, ok := reqid.FromContext(ctx); ok {
		req.Header.Set(reqid.Header, rid)
	}
	if op.Type() == language.Subscription {
		req.Header.Set("Accept", AcceptSubscription)
	} else {
		req.Header.Set("Accept", AcceptDefault)
	}
	return req, nil
}

func (e *Executor) decode(ctx context.Context, resp *http.Response) (result.Outcome, error) {
	mt, _ := mediatype.Parse(resp.Header.Get("Content-Type"))
	switch {
	case mt.Matches(mediatype.MultipartMixed):
		s, err := newMultipartStream(resp)
		if err != nil {
			_ = resp.Body.Close()
			return result.Outcome{}, err
		}
		return collapse(ctx, s)
	case mt.Matches(mediatype.EventStream):
		return result.Outcome{Stream: newSSEStream(resp.Body)}, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result.Outcome{}, errors.Wrap(err, "read upstream response")
	}
	isJSON := mt.Matches(mediatype.JSON) || mt.Matches(mediatype.GraphQLResponseJSON)
	if !isJSON {
		if resp.StatusCode >= 300 {
			return result.Outcome{}, errors.Errorf("upstream responded %s", resp.Status)
		}
		return result.Outcome{}, errors.Errorf("upstream responded with unsupported content type %q", resp.Header.Get("Content-Type"))
	}
	var res result.ExecutionResult
	if err := json.Unmarshal(body, &res); err != nil {
		if resp.StatusCode >= 300 {
			return result.Outcome{}, errors.Errorf("upstream responded %s", resp.Status)
		}
		return result.Outcome{}, errors.Wrap(err, "decode upstream response")
	}
	if res.Data == nil && len(res.Errors) == 0 && resp.StatusCode >= 300 {
		return result.Outcome{}, errors.Errorf("upstream responded %s", resp.Status)
	}
	e.opts.Logger.Debug("upstream result",
		zap.Int("status", resp.StatusCode),
		zap.Int("errors", len(res.Errors)),
	)
	return result.Outcome{Result: &res}, nil
}

// collapse reads the first part of a multipart response. A first part without
// hasNext is a complete result and is returned on its own; otherwise the
// stream is returned with that part still to be delivered.
func collapse(ctx context.Context, s result.Stream) (result.Outcome, error) {
	first, err := s.Next(ctx)
	if err == io.EOF {
		_ = s.Close()
		return result.Outcome{}, errors.New("upstream multipart response has no parts")
	}
	if err != nil {
		_ = s.Close()
		return result.Outcome{}, err
	}
	if first.HasNext == nil {
		_ = s.Close()
		return result.Outcome{Result: first}, nil
	}
	pending := first
	return result.Outcome{Stream: result.Func{
		NextFunc: func(ctx context.Context) (*result.ExecutionResult, error) {
			if r := pending; r != nil {
				pending = nil
				return r, nil
			}
			return s.Next(ctx)
		},
		CloseFunc: s.Close,
	}}, nil
}
