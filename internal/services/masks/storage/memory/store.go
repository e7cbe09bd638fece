// Package memory provides an in-process storage.Store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/louisbranch/masquerade/internal/services/masks/storage"
)

// Store keeps key-value data in memory. Update stages writes and swaps them in
// only when the transaction succeeds.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: map[string][]byte{}}
}

type tx struct {
	base     map[string][]byte
	staged   map[string][]byte
	writable bool
}

func (t *tx) Get(key string) ([]byte, error) {
	if value, ok := t.staged[key]; ok {
		return append([]byte(nil), value...), nil
	}
	value, ok := t.base[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (t *tx) Put(key string, value []byte) error {
	if !t.writable {
		return fmt.Errorf("put %q: read-only transaction", key)
	}
	t.staged[key] = append([]byte(nil), value...)
	return nil
}

// View runs fn against a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("storage is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{base: s.data, staged: map[string][]byte{}})
}

// Update runs fn and commits staged writes when it returns nil.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("storage is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tx{base: s.data, staged: map[string][]byte{}, writable: true}
	if err := fn(t); err != nil {
		return err
	}
	for key, value := range t.staged {
		s.data[key] = value
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

var _ storage.Store = (*Store)(nil)
