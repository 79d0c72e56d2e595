// Package httperr defines the request-terminating errors of the GraphQL HTTP
// layer together with the HTTP status and headers each one maps to.
package httperr

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies an Error.
type Kind int

const (
	KindParse Kind = iota + 1
	KindMethodNotAllowed
	KindBodyTooLarge
	KindBatchingDisabled
	KindBatchTooLarge
	KindCSRFRejected
	KindNotAcceptable
)

var kindNames = map[Kind]string{
	KindParse:            "BAD_REQUEST",
	KindMethodNotAllowed: "METHOD_NOT_ALLOWED",
	KindBodyTooLarge:     "PAYLOAD_TOO_LARGE",
	KindBatchingDisabled: "BATCHING_NOT_SUPPORTED",
	KindBatchTooLarge:    "BATCH_TOO_LARGE",
	KindCSRFRejected:     "CSRF_REJECTED",
	KindNotAcceptable:    "NOT_ACCEPTABLE",
}

// String returns the error code reported in the GraphQL error extensions.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "INTERNAL_SERVER_ERROR"
}

// Error terminates a request with Status. Header is merged into the response.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Header  http.Header
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Parse reports a malformed or unsupported request shape.
func Parse(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindParse, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...), Err: cause}
}

// MethodNotAllowed reports a method outside allowed; allowed ends up in the
// Allow header.
func MethodNotAllowed(method string, allowed ...string) *Error {
	h := http.Header{}
	h.Set("Allow", strings.Join(allowed, ", "))
	return &Error{
		Kind:    KindMethodNotAllowed,
		Status:  http.StatusMethodNotAllowed,
		Message: fmt.Sprintf("method %s is not allowed", method),
		Header:  h,
	}
}

// BodyTooLarge reports a request body above the configured limit.
func BodyTooLarge(limit int64) *Error {
	return &Error{
		Kind:    KindBodyTooLarge,
		Status:  http.StatusRequestEntityTooLarge,
		Message: fmt.Sprintf("request body exceeds %d bytes", limit),
	}
}

// BatchingDisabled reports a batch sent to a server that does not batch.
func BatchingDisabled() *Error {
	return &Error{Kind: KindBatchingDisabled, Status: http.StatusBadRequest, Message: "batching is not supported"}
}

// BatchTooLarge reports a batch with more than limit operations.
func BatchTooLarge(size, limit int) *Error {
	return &Error{
		Kind:    KindBatchTooLarge,
		Status:  http.StatusRequestEntityTooLarge,
		Message: fmt.Sprintf("batch too large: %d operations, at most %d allowed", size, limit),
	}
}

// CSRFRejected reports a simple cross-origin capable request without the
// required header.
func CSRFRejected(headers []string) *Error {
	return &Error{
		Kind:    KindCSRFRejected,
		Status:  http.StatusForbidden,
		Message: fmt.Sprintf("request rejected by CSRF prevention; send a non-simple content type or one of the headers %v", headers),
	}
}

// NotAcceptable reports that no encoder can serve the result shape for the
// client preferences.
func NotAcceptable(accept string) *Error {
	return &Error{
		Kind:    KindNotAcceptable,
		Status:  http.StatusNotAcceptable,
		Message: fmt.Sprintf("no encoder for a streamed result satisfies Accept %q", accept),
	}
}

// As returns the *Error in err's chain.
func As(err error) (*Error, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// StatusOf returns the HTTP status for err, 500 for unknown errors.
func StatusOf(err error) int {
	if he, ok := As(err); ok {
		return he.Status
	}
	return http.StatusInternalServerError
}
