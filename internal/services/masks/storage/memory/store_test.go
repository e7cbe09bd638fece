package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/masquerade/internal/services/masks/storage"
)

func TestUpdateCommitsOnSuccess(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.Put("state", []byte("v1"))
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	var got []byte
	if err := store.View(ctx, func(tx storage.Tx) error {
		var err error
		got, err = tx.Get("state")
		return err
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %q", got)
	}
}

func TestUpdateDiscardsOnError(t *testing.T) {
	store := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Put("state", []byte("partial")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	err = store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.Get("state")
		return err
	})
	if err != storage.ErrNotFound {
		t.Fatalf("expected not found after rollback, got %v", err)
	}
}

func TestViewRejectsWrites(t *testing.T) {
	store := New()
	err := store.View(context.Background(), func(tx storage.Tx) error {
		return tx.Put("state", []byte("x"))
	})
	if err == nil {
		t.Fatal("expected read-only error")
	}
}

func TestReadYourWritesInsideTransaction(t *testing.T) {
	store := New()
	err := store.Update(context.Background(), func(tx storage.Tx) error {
		if err := tx.Put("state", []byte("v2")); err != nil {
			return err
		}
		got, err := tx.Get("state")
		if err != nil {
			return err
		}
		if string(got) != "v2" {
			t.Fatalf("expected staged value, got %q", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Update(ctx, func(storage.Tx) error { return nil }); err == nil {
		t.Fatal("expected context error")
	}
}
