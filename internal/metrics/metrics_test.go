package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"

	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	events "github.com/hanpama/gqlhttp/internal/events"
)

func TestSubscribeCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	bus := eventbus.New()
	defer m.Subscribe(bus)()

	ctx := context.Background()
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	eventbus.Publish(ctx, bus, events.HTTPFinish{Request: req, Status: 200, Duration: time.Millisecond})
	eventbus.Publish(ctx, bus, events.HTTPFinish{Request: req, Status: 400})
	eventbus.Publish(ctx, bus, events.OperationFinish{OperationType: "query"})
	eventbus.Publish(ctx, bus, events.OperationFinish{OperationType: "query", Errors: gqlerror.List{gqlerror.Errorf("x")}})
	eventbus.Publish(ctx, bus, events.OperationFinish{OperationType: "subscription", Streaming: true})
	eventbus.Publish(ctx, bus, events.ChunkWritten{MediaType: "text/event-stream"})
	eventbus.Publish(ctx, bus, events.UpstreamFinish{Status: 200, Duration: time.Millisecond})
	eventbus.Publish(ctx, bus, events.UpstreamFinish{})

	require.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("POST", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("POST", "400")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("query", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("query", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("subscription", "stream")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Chunks.WithLabelValues("text/event-stream")))
	require.Equal(t, 2, testutil.CollectAndCount(m.Upstream))
}

func TestCacheHooksAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	hit, miss := m.CacheHooks("document")
	hit()
	hit()
	miss()
	require.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("document", "hit")))

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), `gqlhttp_cache_lookups_total{cache="document",result="miss"} 1`))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
