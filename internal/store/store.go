// Package store persists opaque session blobs keyed by agent identifier.
// Blob contents are the session package's business; stores only guarantee
// idempotent saves and last-write-wins for concurrent saves of one key.
package store

import "context"

// Store is the persistence contract. Load returns (nil, nil) when no blob
// exists for the identifier.
type Store interface {
	Save(ctx context.Context, id string, blob []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
