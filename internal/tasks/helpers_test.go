package tasks_test

import (
	"context"
	"testing"

	"tarchive/internal/arbiter"
	"tarchive/internal/config"
	"tarchive/internal/notifications"
	"tarchive/internal/queue"
	"tarchive/internal/tasks"
	"tarchive/internal/testsupport"
)

type testEnv struct {
	cfg   *config.Config
	store *queue.Store
	lib   *testsupport.FakeLibrary
	env   *tasks.Environment
}

func newTestEnv(t *testing.T, tapes []string, opts ...testsupport.ConfigOption) *testEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	lib := testsupport.NewFakeLibrary(cfg.Paths.MountPoint, tapes...)

	ctx := context.Background()
	for i, tapeID := range tapes {
		if err := store.UpsertTape(ctx, &queue.Tape{
			TapeID:        tapeID,
			CapacityBytes: cfg.Tape.CapacityBytes,
			Location:      queue.LocationSlot,
			Slot:          i + 1,
		}); err != nil {
			t.Fatalf("UpsertTape failed: %v", err)
		}
	}

	return &testEnv{
		cfg:   cfg,
		store: store,
		lib:   lib,
		env: &tasks.Environment{
			Config:   cfg,
			Store:    store,
			Arbiter:  arbiter.New(store, lib, nil),
			Driver:   lib,
			Notifier: notifications.NewService(cfg),
		},
	}
}

func (e *testEnv) runningTask(t *testing.T, task *queue.Task) *queue.Task {
	t.Helper()

	created := testsupport.Enqueue(t, e.store, task)
	testsupport.MustClaim(t, e.store, created.ID)
	claimed, err := e.store.GetTask(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	return claimed
}

func (e *testEnv) driveState(t *testing.T) queue.DriveStateKind {
	t.Helper()

	state, err := e.store.GetDriveState(context.Background())
	if err != nil {
		t.Fatalf("GetDriveState failed: %v", err)
	}
	return state.State
}
