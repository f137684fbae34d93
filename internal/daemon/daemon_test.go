package daemon_test

import (
	"context"
	"path/filepath"
	"testing"

	"tarchive/internal/arbiter"
	"tarchive/internal/config"
	"tarchive/internal/daemon"
	"tarchive/internal/notifications"
	"tarchive/internal/queue"
	"tarchive/internal/tasks"
	"tarchive/internal/testsupport"
	"tarchive/internal/workflow"
)

type daemonEnv struct {
	cfg    *config.Config
	store  *queue.Store
	lib    *testsupport.FakeLibrary
	daemon *daemon.Daemon
}

func newDaemonEnv(t *testing.T, tapes ...string) *daemonEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
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

	arb := arbiter.New(store, lib, nil)
	notifier := notifications.NewService(cfg)
	env := &tasks.Environment{
		Config:   cfg,
		Store:    store,
		Arbiter:  arb,
		Driver:   lib,
		Notifier: notifier,
	}
	manager := workflow.NewManager(cfg, store, tasks.Handlers(env), notifier, nil)

	d, err := daemon.New(cfg, store, lib, arb, manager, notifier, nil)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	return &daemonEnv{cfg: cfg, store: store, lib: lib, daemon: d}
}

func TestStartSweepsInterruptedTasks(t *testing.T) {
	env := newDaemonEnv(t, "TAPE001")
	ctx := context.Background()

	stuck := testsupport.Enqueue(t, env.store, &queue.Task{
		Kind:       queue.KindArchive,
		TargetPath: "/data/somewhere",
		TapeID:     "TAPE001",
	})
	testsupport.MustClaim(t, env.store, stuck.ID)

	if err := env.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer env.daemon.Stop()

	swept, err := env.store.GetTask(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if swept.State != queue.StateFailed {
		t.Fatalf("expected interrupted task failed, got %s", swept.State)
	}
	if swept.LastError == nil || swept.LastError.Kind != queue.FailManualIntervention {
		t.Fatalf("expected manual-intervention failure, got %+v", swept.LastError)
	}
}

func TestStartRefusesSecondInstance(t *testing.T) {
	env := newDaemonEnv(t, "TAPE001")
	ctx := context.Background()

	if err := env.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer env.daemon.Stop()

	second := newDaemonEnvSharing(t, env)
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second instance to be refused")
	}
}

// newDaemonEnvSharing builds a second daemon against the same configuration,
// store, and library as env.
func newDaemonEnvSharing(t *testing.T, env *daemonEnv) *daemon.Daemon {
	t.Helper()

	arb := arbiter.New(env.store, env.lib, nil)
	notifier := notifications.NewService(env.cfg)
	taskEnv := &tasks.Environment{
		Config:   env.cfg,
		Store:    env.store,
		Arbiter:  arb,
		Driver:   env.lib,
		Notifier: notifier,
	}
	manager := workflow.NewManager(env.cfg, env.store, tasks.Handlers(taskEnv), notifier, nil)
	d, err := daemon.New(env.cfg, env.store, env.lib, arb, manager, notifier, nil)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	return d
}

func TestStartSyncsTapeInventory(t *testing.T) {
	env := newDaemonEnv(t)
	ctx := context.Background()

	// The library holds a cartridge the store has never seen.
	env.lib.InsertTape("TAPE042", 4)

	if err := env.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer env.daemon.Stop()

	tape, err := env.store.GetTape(ctx, "TAPE042")
	if err != nil {
		t.Fatalf("GetTape failed: %v", err)
	}
	if tape == nil {
		t.Fatal("expected discovered tape recorded")
	}
	if tape.CapacityBytes != env.cfg.Tape.CapacityBytes {
		t.Fatalf("expected configured capacity default, got %d", tape.CapacityBytes)
	}
	if tape.Location != queue.LocationSlot || tape.Slot != 4 {
		t.Fatalf("unexpected location %s slot %d", tape.Location, tape.Slot)
	}
}

func TestDeleteableReportPromotesCoveredFolders(t *testing.T) {
	env := newDaemonEnv(t, "TAPE001")
	ctx := context.Background()

	source := filepath.Join(testsupport.BaseDir(env.cfg), "covered")
	testsupport.MakeTree(t, source, map[string]string{"a.dat": "payload"})

	folder, err := env.store.InsertArchivedFolder(ctx, &queue.ArchivedFolder{
		Path:             source,
		TapeID:           "TAPE001",
		PathOnTape:       "covered",
		ByteSize:         7,
		ChecksumManifest: `{"files":{}}`,
	})
	if err != nil {
		t.Fatalf("InsertArchivedFolder failed: %v", err)
	}
	if err := env.store.SetTapeUsedBytes(ctx, "TAPE001", 1024); err != nil {
		t.Fatalf("SetTapeUsedBytes failed: %v", err)
	}

	report, err := env.daemon.DeleteableReport(ctx)
	if err != nil {
		t.Fatalf("DeleteableReport failed: %v", err)
	}
	if len(report) != 1 {
		t.Fatalf("expected 1 deleteable folder, got %d", len(report))
	}
	if report[0].Folder.ID != folder.ID {
		t.Fatalf("unexpected folder in report: %+v", report[0].Folder)
	}
	if !report[0].SourcePresent {
		t.Fatal("expected source reported present")
	}

	promoted, err := env.store.GetArchivedFolder(ctx, folder.ID)
	if err != nil {
		t.Fatalf("GetArchivedFolder failed: %v", err)
	}
	if promoted.VerificationState != queue.VerificationDeleteable {
		t.Fatalf("expected deleteable, got %s", promoted.VerificationState)
	}
}

func TestDeleteableReportSkipsUncoveredFolders(t *testing.T) {
	env := newDaemonEnv(t, "TAPE001")
	ctx := context.Background()

	folder, err := env.store.InsertArchivedFolder(ctx, &queue.ArchivedFolder{
		Path:             "/data/uncovered",
		TapeID:           "TAPE001",
		PathOnTape:       "uncovered",
		ByteSize:         1 << 30,
		ChecksumManifest: `{"files":{}}`,
	})
	if err != nil {
		t.Fatalf("InsertArchivedFolder failed: %v", err)
	}

	report, err := env.daemon.DeleteableReport(ctx)
	if err != nil {
		t.Fatalf("DeleteableReport failed: %v", err)
	}
	if len(report) != 0 {
		t.Fatalf("expected empty report, got %d entries", len(report))
	}

	kept, err := env.store.GetArchivedFolder(ctx, folder.ID)
	if err != nil {
		t.Fatalf("GetArchivedFolder failed: %v", err)
	}
	if kept.VerificationState != queue.VerificationVerified {
		t.Fatalf("expected folder kept verified, got %s", kept.VerificationState)
	}
}

func TestRequeueReportsRejectedIDs(t *testing.T) {
	env := newDaemonEnv(t, "TAPE001")
	ctx := context.Background()

	failed := testsupport.Enqueue(t, env.store, &queue.Task{Kind: queue.KindPrepare, TargetPath: "/data/a"})
	testsupport.MustClaim(t, env.store, failed.ID)
	if err := env.store.Fail(ctx, failed.ID, queue.Failure{Kind: queue.FailInternal, Message: "boom"}); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	queued := testsupport.Enqueue(t, env.store, &queue.Task{Kind: queue.KindPrepare, TargetPath: "/data/b"})

	updated, rejected, err := env.daemon.Requeue(ctx, []int64{failed.ID, queued.ID})
	if err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 requeued, got %d", updated)
	}
	if len(rejected) != 1 || rejected[0] != queued.ID {
		t.Fatalf("expected %d rejected, got %v", queued.ID, rejected)
	}
}
