package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when an HTTP request is received.
// Context carries the request context.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the handler completes. Err is the error that
// terminated the request, if any.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Bytes    int64
	Err      error
	Duration time.Duration
}

// ChunkWritten is emitted after a streaming encoder flushed one part or event.
type ChunkWritten struct {
	Request   *http.Request
	MediaType string
	Bytes     int
}
