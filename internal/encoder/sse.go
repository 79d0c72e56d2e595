package encoder

import (
	"bufio"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	events "github.com/hanpama/gqlhttp/internal/events"
	mediatype "github.com/hanpama/gqlhttp/internal/mediatype"
	result "github.com/hanpama/gqlhttp/internal/result"
)

// SSE writes streams as Server-Sent Events in the distinct connections mode:
// one "next" event per payload and a final "complete" event.
type SSE struct {
	// Heartbeat is the interval of ":" comments sent while waiting for the
	// next payload. 0 disables them.
	Heartbeat time.Duration
	Bus       *eventbus.Bus
	Logger    *zap.Logger
}

var sseMediaTypes = []mediatype.MediaType{mediatype.EventStream}

func (*SSE) MediaTypes() []mediatype.MediaType { return sseMediaTypes }
func (*SSE) Streaming() bool                   { return true }

func (e *SSE) Encode(w http.ResponseWriter, r *http.Request, resp result.Response, mt mediatype.MediaType) error {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Content-Encoding", "none")
	w.WriteHeader(http.StatusOK)
	if err := flush(w); err != nil {
		_ = resp.Close()
		return err
	}

	bw := bufio.NewWriter(w)
	emit := func(res *result.ExecutionResult) error {
		body, err := json.Marshal(res)
		if err != nil {
			return errors.Wrap(err, "encode event")
		}
		bw.WriteString("event: next\ndata: ")
		bw.Write(body)
		bw.WriteString("\n\n")
		if err := flushAll(bw, w); err != nil {
			return err
		}
		eventbus.Publish(r.Context(), e.Bus, events.ChunkWritten{Request: r, MediaType: mt.String(), Bytes: len(body)})
		return nil
	}
	ping := func() error {
		bw.WriteString(":\n\n")
		return flushAll(bw, w)
	}
	if err := drain(r.Context(), resp, e.Heartbeat, emit, ping); err != nil {
		e.logger().Debug("event stream stopped", zap.Error(err))
		return err
	}
	bw.WriteString("event: complete\n\n")
	return flushAll(bw, w)
}

func (e *SSE) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
