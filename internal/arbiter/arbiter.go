package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tarchive/internal/device"
	"tarchive/internal/logging"
	"tarchive/internal/queue"
)

var (
	// ErrDriveBusy means another task currently owns the drive.
	ErrDriveBusy = errors.New("drive busy")
	// ErrDriveHeld means an explore mount is parked on the drive.
	ErrDriveHeld = errors.New("drive held")
	// ErrQuarantined means the drive needs operator attention before any
	// task may touch it again.
	ErrQuarantined = errors.New("drive quarantined")
	// ErrTapeNotFound means the requested cartridge is not in the library.
	ErrTapeNotFound = errors.New("tape not in library")
)

// Arbiter owns the exclusive tape drive. Every load, mount, unmount, and
// unload goes through it, and its persisted state survives daemon restarts
// so a crash mid-operation can never silently free broken hardware.
type Arbiter struct {
	store  *queue.Store
	driver device.Driver
	logger *slog.Logger
}

// New builds the arbiter. The logger may be nil.
func New(store *queue.Store, driver device.Driver, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Arbiter{
		store:  store,
		driver: driver,
		logger: logger.With(logging.String(logging.FieldComponent, "arbiter")),
	}
}

// State returns the persisted drive state.
func (a *Arbiter) State(ctx context.Context) (*queue.DriveState, error) {
	return a.store.GetDriveState(ctx)
}

// Acquire claims the free drive for a task. Callers receive ErrDriveBusy,
// ErrDriveHeld, or ErrQuarantined when the drive is not available.
func (a *Arbiter) Acquire(ctx context.Context, taskID int64) error {
	state, err := a.store.GetDriveState(ctx)
	if err != nil {
		return err
	}
	switch state.State {
	case queue.DriveBusy:
		return fmt.Errorf("%w: held by task %d", ErrDriveBusy, state.HolderTaskID)
	case queue.DriveHeld:
		return fmt.Errorf("%w: explore mount of %s active", ErrDriveHeld, state.TapeID)
	case queue.DriveQuarantined:
		return fmt.Errorf("%w: %s", ErrQuarantined, state.Reason)
	}

	ok, err := a.store.TransitionDriveState(ctx, queue.DriveFree, &queue.DriveState{
		State:        queue.DriveBusy,
		HolderTaskID: taskID,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrDriveBusy
	}
	a.logger.Info("drive acquired", logging.Int64(logging.FieldTaskID, taskID))
	return nil
}

// AcquireHeld claims a drive parked by an explore mount. Only the unmount
// counterpart of the explore uses this path.
func (a *Arbiter) AcquireHeld(ctx context.Context, taskID int64) (tapeID string, err error) {
	state, err := a.store.GetDriveState(ctx)
	if err != nil {
		return "", err
	}
	if state.State == queue.DriveQuarantined {
		return "", fmt.Errorf("%w: %s", ErrQuarantined, state.Reason)
	}
	if state.State != queue.DriveHeld {
		return "", fmt.Errorf("drive is %s, no explore mount to release", state.State)
	}
	tapeID = state.TapeID

	ok, err := a.store.TransitionDriveState(ctx, queue.DriveHeld, &queue.DriveState{
		State:        queue.DriveBusy,
		TapeID:       tapeID,
		HolderTaskID: taskID,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrDriveBusy
	}
	return tapeID, nil
}

// Release returns a busy drive to the pool. The physical drive must already
// be empty; callers dismount before releasing.
func (a *Arbiter) Release(ctx context.Context) error {
	ok, err := a.store.TransitionDriveState(ctx, queue.DriveBusy, &queue.DriveState{State: queue.DriveFree})
	if err != nil {
		return err
	}
	if !ok {
		state, stateErr := a.store.GetDriveState(ctx)
		if stateErr != nil {
			return stateErr
		}
		return fmt.Errorf("release drive: state is %s, not busy", state.State)
	}
	a.logger.Info("drive released")
	return nil
}

// Hold parks a busy drive with a cartridge mounted for exploration. The
// drive stays unavailable to other work until the matching unmount task.
func (a *Arbiter) Hold(ctx context.Context, taskID int64, tapeID string) error {
	ok, err := a.store.TransitionDriveState(ctx, queue.DriveBusy, &queue.DriveState{
		State:        queue.DriveHeld,
		TapeID:       tapeID,
		HolderTaskID: taskID,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("hold drive: not busy")
	}
	a.logger.Info("drive held for exploration",
		logging.String(logging.FieldTapeID, tapeID),
		logging.Int64(logging.FieldTaskID, taskID))
	return nil
}

// Quarantine marks the drive unusable with the given reason. Quarantine is
// sticky: no task state transition clears it, only an explicit operator
// request does.
func (a *Arbiter) Quarantine(ctx context.Context, tapeID, reason string) error {
	err := a.store.SetDriveState(ctx, &queue.DriveState{
		State:  queue.DriveQuarantined,
		TapeID: tapeID,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	a.logger.Error("drive quarantined",
		logging.String(logging.FieldTapeID, tapeID),
		logging.String("reason", reason))
	return nil
}

// ClearQuarantine re-inventories the hardware and, when the library responds,
// frees the drive. Called on explicit operator request after intervention.
func (a *Arbiter) ClearQuarantine(ctx context.Context) error {
	state, err := a.store.GetDriveState(ctx)
	if err != nil {
		return err
	}
	if state.State != queue.DriveQuarantined {
		return fmt.Errorf("drive is %s, not quarantined", state.State)
	}

	snapshot, err := a.driver.Inventory(ctx)
	if err != nil {
		return fmt.Errorf("library does not respond, quarantine stays: %w", err)
	}
	if snapshot.DriveLoaded() {
		if err := a.dismount(ctx, snapshot); err != nil {
			return fmt.Errorf("drive still refuses to empty, quarantine stays: %w", err)
		}
	}

	if err := a.store.SetDriveState(ctx, &queue.DriveState{State: queue.DriveFree}); err != nil {
		return err
	}
	a.logger.Info("quarantine cleared")
	return nil
}

// EnsureMounted makes the requested cartridge the mounted one, swapping out
// whatever is currently in the drive. The caller must hold the drive.
func (a *Arbiter) EnsureMounted(ctx context.Context, tapeID string) error {
	snapshot, err := a.driver.Inventory(ctx)
	if err != nil {
		return fmt.Errorf("inventory: %w", err)
	}

	if snapshot.DriveTapeID == tapeID {
		return a.driver.Mount(ctx)
	}

	if snapshot.DriveLoaded() {
		if err := a.dismount(ctx, snapshot); err != nil {
			return err
		}
		snapshot, err = a.driver.Inventory(ctx)
		if err != nil {
			return fmt.Errorf("inventory after dismount: %w", err)
		}
	}

	slot, ok := snapshot.SlotByTape[tapeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTapeNotFound, tapeID)
	}
	if err := a.driver.Load(ctx, slot); err != nil {
		return a.quarantineAfter(ctx, tapeID, "load", err)
	}
	if err := a.store.SetTapeLocation(ctx, tapeID, queue.LocationDrive, 0); err != nil {
		a.logger.Warn("tape location not recorded", logging.Error(err))
	}
	if err := a.driver.Mount(ctx); err != nil {
		return a.quarantineAfter(ctx, tapeID, "mount", err)
	}
	return nil
}

// Dismount unmounts the tape filesystem and returns the cartridge to a
// storage slot. A failure quarantines the drive rather than freeing it.
func (a *Arbiter) Dismount(ctx context.Context) error {
	snapshot, err := a.driver.Inventory(ctx)
	if err != nil {
		return fmt.Errorf("inventory: %w", err)
	}
	if !snapshot.DriveLoaded() {
		return a.driver.Unmount(ctx)
	}
	return a.dismount(ctx, snapshot)
}

func (a *Arbiter) dismount(ctx context.Context, snapshot *device.Snapshot) error {
	tapeID := snapshot.DriveTapeID
	if err := a.driver.Unmount(ctx); err != nil {
		return a.quarantineAfter(ctx, tapeID, "unmount", err)
	}

	slot := a.homeSlot(snapshot)
	if slot < 0 {
		return a.quarantineAfter(ctx, tapeID, "unload", errors.New("no free storage slot"))
	}
	if err := a.driver.Unload(ctx, slot); err != nil {
		return a.quarantineAfter(ctx, tapeID, "unload", err)
	}
	if err := a.store.SetTapeLocation(ctx, tapeID, queue.LocationSlot, slot); err != nil {
		a.logger.Warn("tape location not recorded", logging.Error(err))
	}
	return nil
}

func (a *Arbiter) homeSlot(snapshot *device.Snapshot) int {
	if len(snapshot.FreeSlots) == 0 {
		return -1
	}
	return snapshot.FreeSlots[0]
}

func (a *Arbiter) quarantineAfter(ctx context.Context, tapeID, op string, cause error) error {
	reason := fmt.Sprintf("%s failed: %v", op, cause)
	if code := device.SenseCode(cause); code != "" {
		reason = fmt.Sprintf("%s failed with sense %s: %v", op, code, cause)
	}
	if err := a.Quarantine(ctx, tapeID, reason); err != nil {
		return errors.Join(cause, err)
	}
	return fmt.Errorf("%w: %s", ErrQuarantined, reason)
}
