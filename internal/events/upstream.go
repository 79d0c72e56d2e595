package events

import "time"

// UpstreamStart is emitted before an operation is sent to the upstream
// GraphQL server.
type UpstreamStart struct {
	Target        string
	OperationName string
}

// UpstreamFinish is emitted once the upstream answered with headers, or the
// round trip failed. Status is 0 when no response was received.
type UpstreamFinish struct {
	Target        string
	OperationName string
	Status        int
	ContentType   string
	Err           error
	Duration      time.Duration
}
