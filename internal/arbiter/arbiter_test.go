package arbiter_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"tarchive/internal/arbiter"
	"tarchive/internal/queue"
	"tarchive/internal/testsupport"
)

func newArbiter(t *testing.T, tapes ...string) (*arbiter.Arbiter, *queue.Store, *testsupport.FakeLibrary) {
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
	return arbiter.New(store, lib, nil), store, lib
}

func TestAcquireIsExclusive(t *testing.T) {
	arb, _, _ := newArbiter(t, "TAPE001")
	ctx := context.Background()

	if err := arb.Acquire(ctx, 1); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	err := arb.Acquire(ctx, 2)
	if !errors.Is(err, arbiter.ErrDriveBusy) {
		t.Fatalf("expected ErrDriveBusy, got %v", err)
	}

	if err := arb.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := arb.Acquire(ctx, 2); err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
}

func TestEnsureMountedLoadsAndSwaps(t *testing.T) {
	arb, store, lib := newArbiter(t, "TAPE001", "TAPE002")
	ctx := context.Background()

	if err := arb.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := arb.EnsureMounted(ctx, "TAPE001"); err != nil {
		t.Fatalf("EnsureMounted failed: %v", err)
	}
	if lib.DriveTape() != "TAPE001" {
		t.Fatalf("expected TAPE001 in drive, got %q", lib.DriveTape())
	}
	if mounted, _ := lib.Mounted(); !mounted {
		t.Fatal("expected cartridge mounted")
	}

	// Requesting another cartridge swaps the drive contents.
	if err := arb.EnsureMounted(ctx, "TAPE002"); err != nil {
		t.Fatalf("EnsureMounted swap failed: %v", err)
	}
	if lib.DriveTape() != "TAPE002" {
		t.Fatalf("expected TAPE002 in drive, got %q", lib.DriveTape())
	}

	tape, err := store.GetTape(ctx, "TAPE002")
	if err != nil {
		t.Fatalf("GetTape failed: %v", err)
	}
	if tape.Location != queue.LocationDrive {
		t.Fatalf("expected TAPE002 recorded in drive, got %s", tape.Location)
	}
}

func TestDismountReturnsCartridgeToFreeSlot(t *testing.T) {
	arb, store, lib := newArbiter(t, "TAPE001")
	ctx := context.Background()

	if err := arb.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := arb.EnsureMounted(ctx, "TAPE001"); err != nil {
		t.Fatalf("EnsureMounted failed: %v", err)
	}
	if _, err := os.Stat(lib.MountPoint()); err != nil {
		t.Fatalf("expected mount point on disk: %v", err)
	}

	if err := arb.Dismount(ctx); err != nil {
		t.Fatalf("Dismount failed: %v", err)
	}
	if lib.DriveTape() != "" {
		t.Fatalf("expected drive emptied, holds %q", lib.DriveTape())
	}
	snapshot, err := lib.Inventory(ctx)
	if err != nil {
		t.Fatalf("Inventory failed: %v", err)
	}
	slot, ok := snapshot.SlotByTape["TAPE001"]
	if !ok {
		t.Fatal("expected cartridge back in a storage slot")
	}
	tape, err := store.GetTape(ctx, "TAPE001")
	if err != nil {
		t.Fatalf("GetTape failed: %v", err)
	}
	if tape.Location != queue.LocationSlot || tape.Slot != slot {
		t.Fatalf("expected store to record slot %d, got %s slot %d", slot, tape.Location, tape.Slot)
	}
}

func TestEnsureMountedUnknownTape(t *testing.T) {
	arb, _, _ := newArbiter(t, "TAPE001")
	ctx := context.Background()

	if err := arb.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	err := arb.EnsureMounted(ctx, "TAPE999")
	if !errors.Is(err, arbiter.ErrTapeNotFound) {
		t.Fatalf("expected ErrTapeNotFound, got %v", err)
	}
}

func TestUnloadFailureQuarantines(t *testing.T) {
	arb, store, lib := newArbiter(t, "TAPE001", "TAPE002")
	ctx := context.Background()

	if err := arb.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := arb.EnsureMounted(ctx, "TAPE001"); err != nil {
		t.Fatalf("EnsureMounted failed: %v", err)
	}

	lib.UnloadErr = errors.New("mtx load: sense 3B/0D")
	err := arb.Dismount(ctx)
	if !errors.Is(err, arbiter.ErrQuarantined) {
		t.Fatalf("expected ErrQuarantined, got %v", err)
	}

	state, stateErr := store.GetDriveState(ctx)
	if stateErr != nil {
		t.Fatalf("GetDriveState failed: %v", stateErr)
	}
	if state.State != queue.DriveQuarantined {
		t.Fatalf("expected quarantined drive, got %s", state.State)
	}
	if state.Reason == "" {
		t.Fatal("expected quarantine reason recorded")
	}

	// Quarantine blocks further acquisition until cleared.
	if err := arb.Acquire(ctx, 2); !errors.Is(err, arbiter.ErrQuarantined) {
		t.Fatalf("expected ErrQuarantined on acquire, got %v", err)
	}
}

func TestClearQuarantineRequiresWorkingHardware(t *testing.T) {
	arb, store, lib := newArbiter(t, "TAPE001", "TAPE002")
	ctx := context.Background()

	if err := arb.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := arb.EnsureMounted(ctx, "TAPE001"); err != nil {
		t.Fatalf("EnsureMounted failed: %v", err)
	}
	lib.UnloadErr = errors.New("stuck cartridge")
	if err := arb.Dismount(ctx); !errors.Is(err, arbiter.ErrQuarantined) {
		t.Fatalf("expected quarantine, got %v", err)
	}

	// Hardware still broken: clearing must fail and stay quarantined.
	if err := arb.ClearQuarantine(ctx); err == nil {
		t.Fatal("expected ClearQuarantine to fail while unload is broken")
	}
	state, err := store.GetDriveState(ctx)
	if err != nil {
		t.Fatalf("GetDriveState failed: %v", err)
	}
	if state.State != queue.DriveQuarantined {
		t.Fatalf("expected drive still quarantined, got %s", state.State)
	}

	// Operator fixed the library: clear succeeds and frees the drive.
	lib.UnloadErr = nil
	if err := arb.ClearQuarantine(ctx); err != nil {
		t.Fatalf("ClearQuarantine failed: %v", err)
	}
	state, err = store.GetDriveState(ctx)
	if err != nil {
		t.Fatalf("GetDriveState failed: %v", err)
	}
	if state.State != queue.DriveFree {
		t.Fatalf("expected free drive, got %s", state.State)
	}
}

func TestHoldBlocksUntilUnmount(t *testing.T) {
	arb, _, _ := newArbiter(t, "TAPE001")
	ctx := context.Background()

	if err := arb.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := arb.EnsureMounted(ctx, "TAPE001"); err != nil {
		t.Fatalf("EnsureMounted failed: %v", err)
	}
	if err := arb.Hold(ctx, 1, "TAPE001"); err != nil {
		t.Fatalf("Hold failed: %v", err)
	}

	if err := arb.Acquire(ctx, 2); !errors.Is(err, arbiter.ErrDriveHeld) {
		t.Fatalf("expected ErrDriveHeld, got %v", err)
	}

	tapeID, err := arb.AcquireHeld(ctx, 3)
	if err != nil {
		t.Fatalf("AcquireHeld failed: %v", err)
	}
	if tapeID != "TAPE001" {
		t.Fatalf("expected held tape TAPE001, got %s", tapeID)
	}
	if err := arb.Dismount(ctx); err != nil {
		t.Fatalf("Dismount failed: %v", err)
	}
	if err := arb.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestReconcileQuarantinesInterruptedTask(t *testing.T) {
	arb, store, lib := newArbiter(t, "TAPE001", "TAPE002")
	ctx := context.Background()

	// Model an unclean stop: state says busy, cartridge still in drive.
	lib.ForceDriveTape("TAPE001")
	if err := store.SetDriveState(ctx, &queue.DriveState{
		State:        queue.DriveBusy,
		TapeID:       "TAPE001",
		HolderTaskID: 42,
	}); err != nil {
		t.Fatalf("SetDriveState failed: %v", err)
	}

	if err := arb.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	state, err := store.GetDriveState(ctx)
	if err != nil {
		t.Fatalf("GetDriveState failed: %v", err)
	}
	if state.State != queue.DriveQuarantined {
		t.Fatalf("expected quarantine after interrupted task, got %s", state.State)
	}
	if state.Reason == "" {
		t.Fatal("expected quarantine reason recorded")
	}
	// The cartridge stays seated; only the operator may move it.
	if lib.DriveTape() != "TAPE001" {
		t.Fatalf("reconcile must not touch the drive, holds %q", lib.DriveTape())
	}
	if lib.Unloads != 0 {
		t.Fatalf("reconcile must not unload, saw %d unloads", lib.Unloads)
	}

	// ClearQuarantine is the only path back to a free drive.
	if err := arb.ClearQuarantine(ctx); err != nil {
		t.Fatalf("ClearQuarantine failed: %v", err)
	}
	state, err = store.GetDriveState(ctx)
	if err != nil {
		t.Fatalf("GetDriveState failed: %v", err)
	}
	if state.State != queue.DriveFree {
		t.Fatalf("expected free drive after operator clear, got %s", state.State)
	}
	if lib.DriveTape() != "" {
		t.Fatalf("expected drive emptied by clear, holds %q", lib.DriveTape())
	}
}

func TestReconcileQuarantinesUnexpectedCartridge(t *testing.T) {
	arb, store, lib := newArbiter(t, "TAPE001", "TAPE002")
	ctx := context.Background()

	// State says free, but a cartridge sits in the drive.
	lib.ForceDriveTape("TAPE001")

	if err := arb.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	state, err := store.GetDriveState(ctx)
	if err != nil {
		t.Fatalf("GetDriveState failed: %v", err)
	}
	if state.State != queue.DriveQuarantined {
		t.Fatalf("expected quarantine on unexpected cartridge, got %s", state.State)
	}
	if state.TapeID != "TAPE001" {
		t.Fatalf("expected seated cartridge recorded, got %q", state.TapeID)
	}
}

func TestReconcilePreservesExploreHold(t *testing.T) {
	arb, store, lib := newArbiter(t, "TAPE001")
	ctx := context.Background()

	lib.ForceDriveTape("TAPE001")
	if err := store.SetDriveState(ctx, &queue.DriveState{
		State:  queue.DriveHeld,
		TapeID: "TAPE001",
	}); err != nil {
		t.Fatalf("SetDriveState failed: %v", err)
	}

	if err := arb.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	state, err := store.GetDriveState(ctx)
	if err != nil {
		t.Fatalf("GetDriveState failed: %v", err)
	}
	if state.State != queue.DriveHeld {
		t.Fatalf("expected held state preserved, got %s", state.State)
	}
}
