package result

import (
	"context"
	"io"
	"sync"
)

// Stream is a pull-based asynchronous sequence of results. Next blocks until
// the next payload is available and returns io.EOF once the source is done.
// Close releases the source; Next must not be called after Close.
type Stream interface {
	Next(ctx context.Context) (*ExecutionResult, error)
	Close() error
}

// FromSlice returns a stream yielding results in order.
func FromSlice(results ...*ExecutionResult) Stream {
	return &sliceStream{results: results}
}

type sliceStream struct {
	mu      sync.Mutex
	results []*ExecutionResult
	closed  bool
}

func (s *sliceStream) Next(ctx context.Context) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.results) == 0 {
		return nil, io.EOF
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.results = nil
	s.mu.Unlock()
	return nil
}

// FromChannel returns a stream reading ch until it is closed. cancel, when
// not nil, is called once by Close and should stop the producer.
func FromChannel(ch <-chan *ExecutionResult, cancel func()) Stream {
	return &chanStream{ch: ch, cancel: cancel}
}

type chanStream struct {
	ch     <-chan *ExecutionResult
	cancel func()
	once   sync.Once
}

func (s *chanStream) Next(ctx context.Context) (*ExecutionResult, error) {
	select {
	case r, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *chanStream) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}

// Func adapts a pair of functions to Stream. close may be nil.
type Func struct {
	NextFunc  func(ctx context.Context) (*ExecutionResult, error)
	CloseFunc func() error
}

func (f Func) Next(ctx context.Context) (*ExecutionResult, error) { return f.NextFunc(ctx) }

func (f Func) Close() error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc()
}

// Collect drains s and closes it. It is meant for tests and for clients that
// do not care about incremental delivery.
func Collect(ctx context.Context, s Stream) ([]*ExecutionResult, error) {
	defer s.Close()
	var out []*ExecutionResult
	for {
		r, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, r)
		if r.Final() {
			return out, nil
		}
	}
}
