package testsupport

import (
	"context"
	"testing"

	"tarchive/internal/config"
	"tarchive/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Enqueue inserts a task for tests using the provided store.
func Enqueue(t testing.TB, store *queue.Store, task *queue.Task) *queue.Task {
	t.Helper()

	created, err := store.Enqueue(context.Background(), task)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return created
}

// MustClaim claims a queued task and fails the test when the claim loses.
func MustClaim(t testing.TB, store *queue.Store, id int64) {
	t.Helper()

	claimed, err := store.Claim(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Claim: %v", err)
	}
	if !claimed {
		t.Fatalf("task %d was not claimable", id)
	}
}
