package encoder

import (
	"bufio"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	events "github.com/hanpama/gqlhttp/internal/events"
	mediatype "github.com/hanpama/gqlhttp/internal/mediatype"
	result "github.com/hanpama/gqlhttp/internal/result"
)

// Multipart writes incremental delivery as multipart/mixed with boundary "-".
// Every payload is a JSON part flushed as soon as it is written.
type Multipart struct {
	Bus    *eventbus.Bus
	Logger *zap.Logger
}

const (
	multipartPreamble   = "\r\n---"
	multipartPartHeader = "\r\nContent-Type: application/json; charset=utf-8\r\nContent-Length: "
	multipartDelimiter  = "\r\n---"
	multipartEnd        = "--\r\n"
)

var multipartMediaTypes = []mediatype.MediaType{mediatype.MultipartMixed}

func (*Multipart) MediaTypes() []mediatype.MediaType { return multipartMediaTypes }
func (*Multipart) Streaming() bool                   { return true }

func (e *Multipart) Encode(w http.ResponseWriter, r *http.Request, resp result.Response, mt mediatype.MediaType) error {
	h := w.Header()
	h.Set("Content-Type", `multipart/mixed; boundary="-"`)
	h.Set("Connection", "keep-alive")
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(multipartPreamble); err != nil {
		_ = resp.Close()
		return err
	}
	if err := flushAll(bw, w); err != nil {
		_ = resp.Close()
		return err
	}

	emit := func(res *result.ExecutionResult) error {
		body, err := json.Marshal(res)
		if err != nil {
			return errors.Wrap(err, "encode part")
		}
		bw.WriteString(multipartPartHeader)
		bw.WriteString(strconv.Itoa(len(body)))
		bw.WriteString("\r\n\r\n")
		bw.Write(body)
		bw.WriteString(multipartDelimiter)
		if err := flushAll(bw, w); err != nil {
			return err
		}
		eventbus.Publish(r.Context(), e.Bus, events.ChunkWritten{Request: r, MediaType: mt.String(), Bytes: len(body)})
		return nil
	}
	if err := drain(r.Context(), resp, 0, emit, nil); err != nil {
		e.logger().Debug("multipart stream stopped", zap.Error(err))
		return err
	}
	if _, err := bw.WriteString(multipartEnd); err != nil {
		return err
	}
	return flushAll(bw, w)
}

func (e *Multipart) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// flushAll empties bw into w and flushes w. bufio keeps the first write
// error, so it is reported here.
func flushAll(bw *bufio.Writer, w http.ResponseWriter) error {
	if err := bw.Flush(); err != nil {
		return err
	}
	return flush(w)
}
