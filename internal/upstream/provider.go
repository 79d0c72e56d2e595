package upstream

import (
	"context"
	"sync"
)

// EndpointProvider lists the URLs of the upstream GraphQL servers.
// Implementations may integrate with service discovery and must be safe for
// concurrent use.
type EndpointProvider interface {
	Endpoints(ctx context.Context) ([]string, error)
}

// StaticEndpoints is a provider backed by a fixed list that can be replaced
// at runtime.
type StaticEndpoints struct {
	mu   sync.RWMutex
	urls []string
}

func NewStaticEndpoints(urls ...string) *StaticEndpoints {
	s := &StaticEndpoints{}
	s.Set(urls...)
	return s
}

// Set replaces the endpoint list.
func (s *StaticEndpoints) Set(urls ...string) {
	cp := make([]string, len(urls))
	copy(cp, urls)
	s.mu.Lock()
	s.urls = cp
	s.mu.Unlock()
}

func (s *StaticEndpoints) Endpoints(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.urls) == 0 {
		return nil, ErrNoEndpoints
	}
	out := make([]string, len(s.urls))
	copy(out, s.urls)
	return out, nil
}
