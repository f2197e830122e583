package dv

import (
	"context"
	"io"
)

// ContentStore is the content-addressed blob store. Content is additive:
// nothing in the sync layer ever removes a blob.
type ContentStore interface {
	// Put stores size bytes read from r and returns their content address.
	// name is advisory (some stores attach it as pin metadata).
	Put(ctx context.Context, r io.Reader, size int64, name string) (string, error)

	// Resolve opens the content stored under cid. The caller closes the stream.
	Resolve(ctx context.Context, cid string) (io.ReadCloser, error)

	// URL returns the public gateway URL for cid: <gateway-base>/<cid>.
	URL(cid string) string
}
