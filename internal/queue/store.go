package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tarchive/internal/config"
)

// ErrStore wraps persistence failures. Callers treat these as fatal to the
// enclosing operation; the daemon stops when the store becomes unreachable.
var ErrStore = errors.New("store error")

// ErrTapeBound means an insert was refused because the tape is already the
// target of a queued or running archive/restore task.
var ErrTapeBound = errors.New("tape bound to active task")

// Store manages durable tasks, tapes, and archived folders backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Enqueue persists a new task in queued state and assigns its id.
func (s *Store) Enqueue(ctx context.Context, task *Task) (*Task, error) {
	if task == nil {
		return nil, storeErr(errors.New("task is nil"))
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (
            kind, target_path, description, tape_id, restore_path, compress,
            state, attempts, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		task.Kind,
		nullableString(task.TargetPath),
		nullableString(task.Description),
		nullableString(task.TapeID),
		nullableString(task.RestorePath),
		boolToInt(task.Compress),
		StateQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, storeErr(fmt.Errorf("insert task: %w", err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr(fmt.Errorf("last insert id: %w", err))
	}
	return s.GetTask(ctx, id)
}

// EnqueueExclusive persists the task only while no queued or running
// archive/restore task is bound to boundTape, in a single statement so two
// racing submissions cannot both slip past the check. Returns ErrTapeBound
// when the tape is taken.
func (s *Store) EnqueueExclusive(ctx context.Context, task *Task, boundTape string) (*Task, error) {
	if task == nil {
		return nil, storeErr(errors.New("task is nil"))
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (
            kind, target_path, description, tape_id, restore_path, compress,
            state, attempts, created_at, updated_at
        )
        SELECT ?, ?, ?, ?, ?, ?, ?, 0, ?, ?
        WHERE NOT EXISTS (
            SELECT 1 FROM tasks
            WHERE tape_id = ? AND kind IN (?, ?) AND state IN (?, ?)
        )`,
		task.Kind,
		nullableString(task.TargetPath),
		nullableString(task.Description),
		nullableString(task.TapeID),
		nullableString(task.RestorePath),
		boolToInt(task.Compress),
		StateQueued,
		timestamp,
		timestamp,
		boundTape,
		KindArchive,
		KindRestore,
		StateQueued,
		StateRunning,
	)
	if err != nil {
		return nil, storeErr(fmt.Errorf("insert task: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storeErr(fmt.Errorf("rows affected: %w", err))
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTapeBound, boundTape)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr(fmt.Errorf("last insert id: %w", err))
	}
	return s.GetTask(ctx, id)
}

// GetTask fetches a task by identifier; nil when absent.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(fmt.Errorf("get task: %w", err))
	}
	return task, nil
}

// ListTasks returns tasks filtered by state set (all tasks when no state is
// provided), ordered by creation time.
func (s *Store) ListTasks(ctx context.Context, states ...State) ([]*Task, error) {
	baseQuery := `SELECT ` + taskColumns + ` FROM tasks`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(states) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(states))
		args := make([]any, len(states))
		for i, state := range states {
			args[i] = state
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE state IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, storeErr(fmt.Errorf("list tasks: %w", err))
	}
	defer rows.Close()

	return collectTasks(rows)
}

// ListRecentTerminal returns the most recently finished tasks, newest first.
func (s *Store) ListRecentTerminal(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE state IN (?, ?)
         ORDER BY finished_at DESC, id DESC LIMIT ?`,
		StateCompleted,
		StateFailed,
		limit,
	)
	if err != nil {
		return nil, storeErr(fmt.Errorf("list recent terminal: %w", err))
	}
	defer rows.Close()

	return collectTasks(rows)
}

// NextQueued returns the oldest queued task among the given kinds, or nil.
func (s *Store) NextQueued(ctx context.Context, kinds ...Kind) (*Task, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(kinds))
	args := make([]any, 0, len(kinds)+1)
	args = append(args, StateQueued)
	for _, kind := range kinds {
		args = append(args, kind)
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE state = ? AND kind IN (`+placeholders+`)
         ORDER BY created_at, id LIMIT 1`,
		args...,
	)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(fmt.Errorf("next queued: %w", err))
	}
	return task, nil
}

// Claim atomically transitions a queued task to running, incrementing its
// attempt counter. Returns false when another worker already claimed it.
func (s *Store) Claim(ctx context.Context, id int64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET state = ?, attempts = attempts + 1, started_at = ?, updated_at = ?,
             phase = NULL, last_error = NULL, result = NULL, finished_at = NULL
         WHERE id = ? AND state = ?`,
		StateRunning,
		now,
		now,
		id,
		StateQueued,
	)
	if err != nil {
		return false, storeErr(fmt.Errorf("claim task: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(fmt.Errorf("rows affected: %w", err))
	}
	return affected > 0, nil
}

// SetPhase records the hardware sub-phase of a running task.
func (s *Store) SetPhase(ctx context.Context, id int64, phase Phase) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks SET phase = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(phase),
		now,
		id,
		StateRunning,
	)
	if err != nil {
		return storeErr(fmt.Errorf("set phase: %w", err))
	}
	return nil
}

// Complete marks a running task completed with a result message.
func (s *Store) Complete(ctx context.Context, id int64, result string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET state = ?, phase = NULL, result = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateCompleted,
		nullableString(result),
		now,
		now,
		id,
		StateRunning,
	)
	if err != nil {
		return storeErr(fmt.Errorf("complete task: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr(fmt.Errorf("rows affected: %w", err))
	}
	if affected == 0 {
		return storeErr(fmt.Errorf("task %d not running", id))
	}
	return nil
}

// Fail marks a running task failed with a structured failure record.
func (s *Store) Fail(ctx context.Context, id int64, failure Failure) error {
	payload, err := json.Marshal(failure)
	if err != nil {
		return storeErr(fmt.Errorf("marshal failure: %w", err))
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET state = ?, last_error = ?, finished_at = ?, updated_at = ?
         WHERE id = ? AND state = ?`,
		StateFailed,
		string(payload),
		now,
		now,
		id,
		StateRunning,
	)
	if err != nil {
		return storeErr(fmt.Errorf("fail task: %w", err))
	}
	return nil
}

// FailAllRunning fails every running task with the given reason. Used during
// shutdown and by the startup sweep after an unclean stop.
func (s *Store) FailAllRunning(ctx context.Context, failure Failure) (int64, error) {
	payload, err := json.Marshal(failure)
	if err != nil {
		return 0, storeErr(fmt.Errorf("marshal failure: %w", err))
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET state = ?, last_error = ?, finished_at = ?, updated_at = ?
         WHERE state = ?`,
		StateFailed,
		string(payload),
		now,
		now,
		StateRunning,
	)
	if err != nil {
		return 0, storeErr(fmt.Errorf("fail running tasks: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(fmt.Errorf("rows affected: %w", err))
	}
	return affected, nil
}

// Requeue resets failed tasks back to queued, clearing last_error while
// preserving the attempt counter. Tasks in any other state are reported back
// as rejected rather than silently skipped.
func (s *Store) Requeue(ctx context.Context, ids ...int64) (updated int64, rejected []int64, err error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		res, execErr := s.db.ExecContext(
			ctx,
			`UPDATE tasks
             SET state = ?, last_error = NULL, phase = NULL, result = NULL,
                 finished_at = NULL, updated_at = ?
             WHERE id = ? AND state = ?`,
			StateQueued,
			now,
			id,
			StateFailed,
		)
		if execErr != nil {
			return updated, rejected, storeErr(fmt.Errorf("requeue task %d: %w", id, execErr))
		}
		affected, raErr := res.RowsAffected()
		if raErr != nil {
			return updated, rejected, storeErr(fmt.Errorf("rows affected: %w", raErr))
		}
		if affected == 0 {
			rejected = append(rejected, id)
			continue
		}
		updated += affected
	}
	return updated, rejected, nil
}

// RequeueAllFailed resets every failed task back to queued.
func (s *Store) RequeueAllFailed(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
         SET state = ?, last_error = NULL, phase = NULL, result = NULL,
             finished_at = NULL, updated_at = ?
         WHERE state = ?`,
		StateQueued,
		now,
		StateFailed,
	)
	if err != nil {
		return 0, storeErr(fmt.Errorf("requeue failed tasks: %w", err))
	}
	return res.RowsAffected()
}

// TapeBoundToActiveTask reports whether the tape is the target of a queued or
// running archive/restore task, optionally excluding one task id.
func (s *Store) TapeBoundToActiveTask(ctx context.Context, tapeID string, excludeID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM tasks
         WHERE tape_id = ? AND kind IN (?, ?) AND state IN (?, ?) AND id != ?`,
		tapeID,
		KindArchive,
		KindRestore,
		StateQueued,
		StateRunning,
		excludeID,
	).Scan(&count)
	if err != nil {
		return false, storeErr(fmt.Errorf("check tape binding: %w", err))
	}
	return count > 0, nil
}

// TaskStats returns a count of tasks per state.
func (s *Store) TaskStats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM tasks GROUP BY state`)
	if err != nil {
		return Stats{}, storeErr(fmt.Errorf("task stats: %w", err))
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return Stats{}, storeErr(err)
		}
		switch state {
		case StateQueued:
			stats.Queued = count
		case StateRunning:
			stats.Running = count
		case StateCompleted:
			stats.Completed = count
		case StateFailed:
			stats.Failed = count
		}
	}
	return stats, storeWrap(rows.Err())
}

const taskColumns = "id, kind, target_path, description, tape_id, restore_path, compress, state, phase, attempts, last_error, result, created_at, updated_at, started_at, finished_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*Task, error) {
	var (
		id          int64
		kind        string
		targetPath  sql.NullString
		description sql.NullString
		tapeID      sql.NullString
		restorePath sql.NullString
		compress    sql.NullInt64
		state       string
		phase       sql.NullString
		attempts    int
		lastError   sql.NullString
		result      sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
		startedRaw  sql.NullString
		finishedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&kind,
		&targetPath,
		&description,
		&tapeID,
		&restorePath,
		&compress,
		&state,
		&phase,
		&attempts,
		&lastError,
		&result,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	task := &Task{
		ID:          id,
		Kind:        Kind(kind),
		TargetPath:  targetPath.String,
		Description: description.String,
		TapeID:      tapeID.String,
		RestorePath: restorePath.String,
		Compress:    compress.Valid && compress.Int64 != 0,
		State:       State(state),
		Phase:       Phase(phase.String),
		Attempts:    attempts,
		Result:      result.String,
	}

	if lastError.Valid && lastError.String != "" {
		var failure Failure
		if err := json.Unmarshal([]byte(lastError.String), &failure); err == nil {
			task.LastError = &failure
		}
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		task.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			task.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			task.FinishedAt = &finished
		}
	}
	return task, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		tasks = append(tasks, task)
	}
	return tasks, storeWrap(rows.Err())
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrStore, err)
}

func storeWrap(err error) error {
	if err == nil {
		return nil
	}
	return storeErr(err)
}
