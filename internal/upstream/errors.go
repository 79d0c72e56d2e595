package upstream

import "github.com/pkg/errors"

// ErrNoEndpoints indicates the provider returned no endpoints.
var ErrNoEndpoints = errors.New("upstream: no endpoints available")
