// Package result defines what executing a GraphQL operation produces: a
// single ExecutionResult or a Stream of them for incremental delivery and
// subscriptions.
package result

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ExecutionResult is one GraphQL response payload. For streamed results the
// first payload carries Data and later ones carry Incremental patches.
type ExecutionResult struct {
	Data any `json:"data,omitempty"`
	// HasData keeps a "data" entry in the output while Data is nil, so an
	// execution that nulled the root encodes "data": null.
	HasData     bool           `json:"-"`
	Errors      gqlerror.List  `json:"errors,omitempty"`
	Extensions  map[string]any `json:"extensions,omitempty"`
	HasNext     *bool          `json:"hasNext,omitempty"`
	Incremental []Incremental  `json:"incremental,omitempty"`
}

type plainResult ExecutionResult

func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	if r.Data != nil || !r.HasData {
		return json.Marshal(plainResult(r))
	}
	return json.Marshal(struct {
		Data any `json:"data"`
		plainResult
	}{plainResult: plainResult(r)})
}

func (r *ExecutionResult) UnmarshalJSON(b []byte) error {
	var keys map[string]jsoniter.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil {
		return err
	}
	var p plainResult
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	_, p.HasData = keys["data"]
	*r = ExecutionResult(p)
	return nil
}

// Incremental is a @defer or @stream patch applied at Path.
type Incremental struct {
	Data       any            `json:"data,omitempty"`
	Items      []any          `json:"items,omitempty"`
	Path       ast.Path       `json:"path"`
	Label      string         `json:"label,omitempty"`
	Errors     gqlerror.List  `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Final reports whether r is the last payload of an incremental stream.
func (r *ExecutionResult) Final() bool {
	return r != nil && r.HasNext != nil && !*r.HasNext
}

// Bool returns a pointer to b, for HasNext.
func Bool(b bool) *bool { return &b }

// Errors builds a result that only carries errors.
func Errors(errs ...*gqlerror.Error) *ExecutionResult {
	return &ExecutionResult{Errors: gqlerror.List(errs)}
}

// FromError turns any error into a result, keeping GraphQL errors as they are.
func FromError(err error) *ExecutionResult {
	return &ExecutionResult{Errors: AsList(err)}
}

// AsList converts err into a GraphQL error list. *gqlerror.Error values and
// gqlerror.List values found in the chain are kept; anything else is wrapped.
func AsList(err error) gqlerror.List {
	if err == nil {
		return nil
	}
	var list gqlerror.List
	if errors.As(err, &list) {
		return list
	}
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return gqlerror.List{gqlErr}
	}
	return gqlerror.List{gqlerror.Wrap(err)}
}

// Outcome is what one operation produced: exactly one of Result or Stream.
type Outcome struct {
	// Index is the position of the operation in its batch, or -1.
	Index  int
	Result *ExecutionResult
	Stream Stream
}

// Streaming reports whether the outcome is a Stream.
func (o Outcome) Streaming() bool { return o.Stream != nil }

// Response holds the outcomes of every operation of one HTTP request, in
// request order.
type Response struct {
	Outcomes []Outcome
	Batched  bool
}

// Single wraps a single outcome.
func Single(o Outcome) Response {
	o.Index = -1
	return Response{Outcomes: []Outcome{o}}
}

// Streaming reports whether any outcome is a Stream. Such a response needs a
// streaming encoder.
func (r Response) Streaming() bool {
	for _, o := range r.Outcomes {
		if o.Streaming() {
			return true
		}
	}
	return false
}

// Close closes every stream in the response and returns the first error.
func (r Response) Close() error {
	var first error
	for _, o := range r.Outcomes {
		if o.Stream == nil {
			continue
		}
		if err := o.Stream.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
