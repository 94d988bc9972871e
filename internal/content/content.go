// Package content stores certificate artifacts in content-addressed storage.
package content

import (
	"context"

	id "certledger/pkg/domain"
)

// Addresser stores an artifact and returns its content hash. Uploading the
// same bytes twice returns the same hash.
type Addresser interface {
	Upload(ctx context.Context, data []byte, filename string) (id.ContentHash, error)
}

const upstreamName = "content"
