package storage

import (
	"context"

	"github.com/louisbranch/masquerade/internal/platform/errors"
)

// ErrNotFound indicates a requested key is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// Tx is a view of the store inside one transaction.
type Tx interface {
	// Get returns the value stored at key or ErrNotFound.
	Get(key string) ([]byte, error)
	// Put replaces the value at key. The write is visible to later Gets in
	// the same transaction and is committed only if the transaction succeeds.
	Put(key string, value []byte) error
}

// Store runs transactions against persisted key-value data.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error
	// Update runs fn in a read-write transaction and commits only when fn
	// returns nil.
	Update(ctx context.Context, fn func(Tx) error) error
	// Close releases backend resources.
	Close() error
}
