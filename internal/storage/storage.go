// Package storage abstracts the flat key→bytes stores that hold remote
// changelogs: an S3-protocol object store, the local filesystem, and
// in-memory stores for tests, with an optional encryption wrapper that
// composes over any of them.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("object not found")

// Backend is the minimal contract a remote changelog needs. Keys are flat
// strings; "directories" are only a prefix convention.
//
// List returns keys under a prefix in unspecified order. Get fails with
// ErrNotFound for an absent key. Put creates or replaces atomically.
// Delete is idempotent; deleting an absent key succeeds.
type Backend interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}
