package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertTape records or refreshes a cartridge's location and accounting.
func (s *Store) UpsertTape(ctx context.Context, tape *Tape) error {
	if tape == nil || tape.TapeID == "" {
		return storeErr(errors.New("tape id is required"))
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tapes (tape_id, capacity_bytes, used_bytes, location, slot, last_seen_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (tape_id) DO UPDATE SET
             capacity_bytes = excluded.capacity_bytes,
             used_bytes = excluded.used_bytes,
             location = excluded.location,
             slot = excluded.slot,
             last_seen_at = excluded.last_seen_at`,
		tape.TapeID,
		tape.CapacityBytes,
		tape.UsedBytes,
		tape.Location,
		tape.Slot,
		now,
	)
	if err != nil {
		return storeErr(fmt.Errorf("upsert tape: %w", err))
	}
	return nil
}

// GetTape fetches a cartridge record; nil when unknown.
func (s *Store) GetTape(ctx context.Context, tapeID string) (*Tape, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT tape_id, capacity_bytes, used_bytes, location, slot, last_seen_at
         FROM tapes WHERE tape_id = ?`,
		tapeID,
	)
	tape, err := scanTape(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(fmt.Errorf("get tape: %w", err))
	}
	return tape, nil
}

// ListTapes returns all known cartridges ordered by identifier.
func (s *Store) ListTapes(ctx context.Context) ([]*Tape, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT tape_id, capacity_bytes, used_bytes, location, slot, last_seen_at
         FROM tapes ORDER BY tape_id`,
	)
	if err != nil {
		return nil, storeErr(fmt.Errorf("list tapes: %w", err))
	}
	defer rows.Close()

	var tapes []*Tape
	for rows.Next() {
		tape, err := scanTape(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		tapes = append(tapes, tape)
	}
	return tapes, storeWrap(rows.Err())
}

// SetTapeLocation updates a cartridge's position after a changer move.
func (s *Store) SetTapeLocation(ctx context.Context, tapeID string, location TapeLocation, slot int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tapes SET location = ?, slot = ?, last_seen_at = ? WHERE tape_id = ?`,
		location,
		slot,
		now,
		tapeID,
	)
	if err != nil {
		return storeErr(fmt.Errorf("set tape location: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr(fmt.Errorf("rows affected: %w", err))
	}
	if affected == 0 {
		return storeErr(fmt.Errorf("tape %s not known", tapeID))
	}
	return nil
}

// SetTapeUsedBytes records the measured usage of a mounted cartridge.
func (s *Store) SetTapeUsedBytes(ctx context.Context, tapeID string, usedBytes int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tapes SET used_bytes = ?, last_seen_at = ? WHERE tape_id = ?`,
		usedBytes,
		now,
		tapeID,
	)
	if err != nil {
		return storeErr(fmt.Errorf("set tape used bytes: %w", err))
	}
	return nil
}

func scanTape(scanner interface{ Scan(dest ...any) error }) (*Tape, error) {
	var (
		tapeID      string
		capacity    int64
		usedBytes   int64
		location    string
		slot        int
		lastSeenRaw string
	)
	if err := scanner.Scan(&tapeID, &capacity, &usedBytes, &location, &slot, &lastSeenRaw); err != nil {
		return nil, err
	}
	tape := &Tape{
		TapeID:        tapeID,
		CapacityBytes: capacity,
		UsedBytes:     usedBytes,
		Location:      TapeLocation(location),
		Slot:          slot,
	}
	if lastSeen, err := parseTimeString(lastSeenRaw); err == nil {
		tape.LastSeenAt = lastSeen
	}
	return tape, nil
}
