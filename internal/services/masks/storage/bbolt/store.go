// Package bbolt provides a BoltDB-backed storage.Store.
package bbolt

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/louisbranch/masquerade/internal/platform/timeouts"
	"github.com/louisbranch/masquerade/internal/services/masks/storage"
	"go.etcd.io/bbolt"
)

const bucketName = "masquerade"

// Store provides a BoltDB-backed key-value store.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: timeouts.StoreOpen})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBucket(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type tx struct {
	bucket *bbolt.Bucket
}

func (t tx) Get(key string) ([]byte, error) {
	value := t.bucket.Get([]byte(key))
	if value == nil {
		return nil, storage.ErrNotFound
	}
	// Bolt values are only valid for the life of the transaction.
	return append([]byte(nil), value...), nil
}

func (t tx) Put(key string, value []byte) error {
	if !t.bucket.Writable() {
		return fmt.Errorf("put %q: read-only transaction", key)
	}
	return t.bucket.Put([]byte(key), value)
}

// View runs fn in a read-only Bolt transaction.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.db.View(func(boltTx *bbolt.Tx) error {
		bucket := boltTx.Bucket([]byte(bucketName))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", bucketName)
		}
		return fn(tx{bucket: bucket})
	})
}

// Update runs fn in a read-write Bolt transaction.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return s.db.Update(func(boltTx *bbolt.Tx) error {
		bucket := boltTx.Bucket([]byte(bucketName))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", bucketName)
		}
		return fn(tx{bucket: bucket})
	})
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) ensureBucket() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketName)); err != nil {
			return fmt.Errorf("create %s bucket: %w", bucketName, err)
		}
		return nil
	})
}

var _ storage.Store = (*Store)(nil)
