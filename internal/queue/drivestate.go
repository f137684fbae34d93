package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetDriveState returns the singleton drive record. The row is seeded by the
// initial migration, so a missing row indicates a damaged database.
func (s *Store) GetDriveState(ctx context.Context) (*DriveState, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT state, tape_id, holder_task_id, reason, updated_at FROM drive_state WHERE id = 1`,
	)
	var (
		state      string
		tapeID     sql.NullString
		holderID   sql.NullInt64
		reason     sql.NullString
		updatedRaw string
	)
	if err := row.Scan(&state, &tapeID, &holderID, &reason, &updatedRaw); err != nil {
		return nil, storeErr(fmt.Errorf("get drive state: %w", err))
	}
	driveState := &DriveState{
		State:        DriveStateKind(state),
		TapeID:       tapeID.String,
		HolderTaskID: holderID.Int64,
		Reason:       reason.String,
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		driveState.UpdatedAt = updated
	}
	return driveState, nil
}

// SetDriveState replaces the singleton drive record.
func (s *Store) SetDriveState(ctx context.Context, state *DriveState) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE drive_state SET state = ?, tape_id = ?, holder_task_id = ?, reason = ?, updated_at = ? WHERE id = 1`,
		state.State,
		nullableString(state.TapeID),
		nullableInt64(state.HolderTaskID),
		nullableString(state.Reason),
		now,
	)
	if err != nil {
		return storeErr(fmt.Errorf("set drive state: %w", err))
	}
	return nil
}

// TransitionDriveState swaps the drive record only when it currently holds
// the expected state, returning false when another transition won the race.
func (s *Store) TransitionDriveState(ctx context.Context, from DriveStateKind, to *DriveState) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE drive_state SET state = ?, tape_id = ?, holder_task_id = ?, reason = ?, updated_at = ?
         WHERE id = 1 AND state = ?`,
		to.State,
		nullableString(to.TapeID),
		nullableInt64(to.HolderTaskID),
		nullableString(to.Reason),
		now,
		from,
	)
	if err != nil {
		return false, storeErr(fmt.Errorf("transition drive state: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(fmt.Errorf("rows affected: %w", err))
	}
	return affected > 0, nil
}

func nullableInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
