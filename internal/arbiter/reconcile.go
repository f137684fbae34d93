package arbiter

import (
	"context"
	"fmt"

	"tarchive/internal/logging"
	"tarchive/internal/queue"
)

// Reconcile aligns the persisted drive state with the hardware at startup.
// After an unclean stop the drive may still hold a cartridge from an
// interrupted task; the arbiter never guesses its way out of that. Any
// mismatch between the persisted state and the live inventory quarantines
// the drive, and only an explicit ClearQuarantine unloads and frees it.
// An existing quarantine and a held explore mount both survive restarts.
func (a *Arbiter) Reconcile(ctx context.Context) error {
	state, err := a.store.GetDriveState(ctx)
	if err != nil {
		return err
	}

	snapshot, err := a.driver.Inventory(ctx)
	if err != nil {
		quarantineErr := a.Quarantine(ctx, state.TapeID, fmt.Sprintf("library unreachable at startup: %v", err))
		if quarantineErr != nil {
			return quarantineErr
		}
		return nil
	}

	switch state.State {
	case queue.DriveQuarantined:
		a.logger.Warn("drive remains quarantined", logging.String("reason", state.Reason))
		return nil

	case queue.DriveHeld:
		// An explore mount intentionally outlives the daemon. Keep the hold
		// when the cartridge is still where we left it.
		if snapshot.DriveTapeID == state.TapeID {
			a.logger.Info("explore mount preserved across restart",
				logging.String(logging.FieldTapeID, state.TapeID))
			return nil
		}
		return a.Quarantine(ctx, state.TapeID,
			fmt.Sprintf("held cartridge %s no longer in drive", state.TapeID))

	case queue.DriveBusy:
		return a.Quarantine(ctx, state.TapeID,
			fmt.Sprintf("task %d was interrupted while holding the drive", state.HolderTaskID))

	default:
		if snapshot.DriveLoaded() {
			return a.Quarantine(ctx, snapshot.DriveTapeID,
				fmt.Sprintf("cartridge %s found in a drive recorded as free", snapshot.DriveTapeID))
		}
		mounted, err := a.driver.Mounted()
		if err == nil && mounted {
			return a.Quarantine(ctx, state.TapeID, "stale tape filesystem mount found at startup")
		}
		return a.store.SetDriveState(ctx, &queue.DriveState{State: queue.DriveFree})
	}
}
