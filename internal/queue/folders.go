package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const folderColumns = "id, path, description, tape_id, path_on_tape, byte_size, compressed, checksum_manifest, archived_at, verification_state"

// InsertArchivedFolder records a verified copy of a folder on tape. Folders
// are only inserted after their manifest matched the data written to tape, so
// the initial verification state is always verified.
func (s *Store) InsertArchivedFolder(ctx context.Context, folder *ArchivedFolder) (*ArchivedFolder, error) {
	if folder == nil {
		return nil, storeErr(errors.New("folder is nil"))
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO archived_folders (
            path, description, tape_id, path_on_tape, byte_size, compressed,
            checksum_manifest, archived_at, verification_state
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		folder.Path,
		nullableString(folder.Description),
		folder.TapeID,
		folder.PathOnTape,
		folder.ByteSize,
		boolToInt(folder.Compressed),
		folder.ChecksumManifest,
		now.Format(time.RFC3339Nano),
		VerificationVerified,
	)
	if err != nil {
		return nil, storeErr(fmt.Errorf("insert archived folder: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr(fmt.Errorf("last insert id: %w", err))
	}
	return s.GetArchivedFolder(ctx, id)
}

// GetArchivedFolder fetches an archived folder by id; nil when absent.
func (s *Store) GetArchivedFolder(ctx context.Context, id int64) (*ArchivedFolder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM archived_folders WHERE id = ?`, id)
	folder, err := scanArchivedFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(fmt.Errorf("get archived folder: %w", err))
	}
	return folder, nil
}

// FindArchivedFolderByPath returns the newest archived copy of a source path,
// or nil when the path was never archived.
func (s *Store) FindArchivedFolderByPath(ctx context.Context, path string) (*ArchivedFolder, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+folderColumns+` FROM archived_folders WHERE path = ? ORDER BY archived_at DESC LIMIT 1`,
		path,
	)
	folder, err := scanArchivedFolder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(fmt.Errorf("find archived folder: %w", err))
	}
	return folder, nil
}

// ListArchivedFolders returns archived folders, optionally restricted to one
// tape, newest first.
func (s *Store) ListArchivedFolders(ctx context.Context, tapeID string) ([]*ArchivedFolder, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if tapeID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+folderColumns+` FROM archived_folders ORDER BY archived_at DESC, id DESC`)
	} else {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT `+folderColumns+` FROM archived_folders WHERE tape_id = ? ORDER BY archived_at DESC, id DESC`,
			tapeID,
		)
	}
	if err != nil {
		return nil, storeErr(fmt.Errorf("list archived folders: %w", err))
	}
	defer rows.Close()

	return collectArchivedFolders(rows)
}

// ListFoldersByVerification returns folders in a given verification state,
// oldest first so reports surface long-pending entries.
func (s *Store) ListFoldersByVerification(ctx context.Context, state VerificationState) ([]*ArchivedFolder, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+folderColumns+` FROM archived_folders WHERE verification_state = ? ORDER BY archived_at, id`,
		state,
	)
	if err != nil {
		return nil, storeErr(fmt.Errorf("list folders by verification: %w", err))
	}
	defer rows.Close()

	return collectArchivedFolders(rows)
}

// PromoteDeleteable advances a verified folder to deleteable. The guard on
// verification_state makes the promotion a no-op for anything not verified,
// so unverified or already-deleteable entries are never touched.
func (s *Store) PromoteDeleteable(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE archived_folders SET verification_state = ? WHERE id = ? AND verification_state = ?`,
		VerificationDeleteable,
		id,
		VerificationVerified,
	)
	if err != nil {
		return false, storeErr(fmt.Errorf("promote deleteable: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(fmt.Errorf("rows affected: %w", err))
	}
	return affected > 0, nil
}

// DemoteUnverified drops a folder back to unverified after a failed
// consistency check, blocking deleteable reporting until re-verified.
func (s *Store) DemoteUnverified(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE archived_folders SET verification_state = ? WHERE id = ?`,
		VerificationUnverified,
		id,
	)
	if err != nil {
		return storeErr(fmt.Errorf("demote unverified: %w", err))
	}
	return nil
}

func scanArchivedFolder(scanner interface{ Scan(dest ...any) error }) (*ArchivedFolder, error) {
	var (
		id          int64
		path        string
		description sql.NullString
		tapeID      string
		pathOnTape  string
		byteSize    int64
		compressed  sql.NullInt64
		manifest    string
		archivedRaw string
		state       string
	)
	if err := scanner.Scan(
		&id,
		&path,
		&description,
		&tapeID,
		&pathOnTape,
		&byteSize,
		&compressed,
		&manifest,
		&archivedRaw,
		&state,
	); err != nil {
		return nil, err
	}
	folder := &ArchivedFolder{
		ID:                id,
		Path:              path,
		Description:       description.String,
		TapeID:            tapeID,
		PathOnTape:        pathOnTape,
		ByteSize:          byteSize,
		Compressed:        compressed.Valid && compressed.Int64 != 0,
		ChecksumManifest:  manifest,
		VerificationState: VerificationState(state),
	}
	if archivedAt, err := parseTimeString(archivedRaw); err == nil {
		folder.ArchivedAt = archivedAt
	}
	return folder, nil
}

func collectArchivedFolders(rows *sql.Rows) ([]*ArchivedFolder, error) {
	var folders []*ArchivedFolder
	for rows.Next() {
		folder, err := scanArchivedFolder(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		folders = append(folders, folder)
	}
	return folders, storeWrap(rows.Err())
}
