package events

import (
	"net/http"
	"time"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// OperationStart is emitted before executing a GraphQL operation.
type OperationStart struct {
	Request       *http.Request
	BatchIndex    int
	Query         string
	OperationName string
	OperationType string
}

// OperationFinish is emitted once the executor returned. For streamed
// results Duration covers the time to the first payload only.
type OperationFinish struct {
	Request       *http.Request
	BatchIndex    int
	Query         string
	OperationName string
	OperationType string
	Streaming     bool
	Errors        gqlerror.List
	Duration      time.Duration
}
