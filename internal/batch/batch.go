// Package batch enforces the batching policy on parsed requests.
package batch

import (
	"github.com/hanpama/gqlhttp/internal/httperr"
	"github.com/hanpama/gqlhttp/internal/request"
)

// Check rejects batches when batching is disabled (maxBatchSize == 0) or when
// the batch holds more than maxBatchSize operations. Single requests always
// pass.
func Check(parsed request.Parsed, maxBatchSize int) error {
	if !parsed.Batched {
		return nil
	}
	if maxBatchSize <= 0 {
		return httperr.BatchingDisabled()
	}
	if n := parsed.Len(); n > maxBatchSize {
		return httperr.BatchTooLarge(n, maxBatchSize)
	}
	return nil
}
