// Package store provides a minimal keyed record store: a durable mapping
// from string keys to opaque serialized blobs.
//
// Records are opaque to the store; callers own encoding and decoding. This
// keeps a single implementation reusable for any record shape (auth flow
// state, session credentials, etc).
//
// Implementations must allow concurrent access. The store itself is the
// only serialization point: [RecordStore.Put] is an atomic upsert (a single
// insert-or-update operation, never read-then-write), and [RecordStore.Take]
// is an atomic get-and-delete, so callers never need to hold locks across
// store calls.
package store

import (
	"context"
	"errors"
)

// Returned by [RecordStore.Get] and [RecordStore.Take] when no record exists
// for the key. Any other error indicates a storage-layer failure, which
// callers must not conflate with absence.
var ErrNotFound = errors.New("record not found")

// Keyed blob storage contract.
type RecordStore interface {
	// Get returns the record for the key, or [ErrNotFound]. No side effects.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put inserts the record, replacing any existing record for the key.
	// Concurrent Puts for the same key resolve last-write-wins.
	Put(ctx context.Context, key string, val []byte) error

	// Delete removes the record for the key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Take fetches and deletes the record in one step. Under concurrent
	// calls for the same key, exactly one caller receives the record; the
	// rest get [ErrNotFound].
	Take(ctx context.Context, key string) ([]byte, error)
}
