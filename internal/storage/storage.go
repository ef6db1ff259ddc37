// Package storage defines the content store contract for media uploads.
package storage

import (
	"context"
	"io"
)

// BlobStore accepts a streamed object write at a fully-qualified key and
// returns a public URL deterministically derived from the key.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}
