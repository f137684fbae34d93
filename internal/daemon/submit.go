package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tarchive/internal/arbiter"
	"tarchive/internal/logging"
	"tarchive/internal/queue"
	"tarchive/internal/tasks"
)

// ErrResourceConflict marks a submission racing an active task for the same
// tape. The other submit-time sentinels are tasks.ErrInvalidRequest and
// arbiter.ErrQuarantined.
var ErrResourceConflict = errors.New("resource conflict")

// SubmitRequest carries the parameters of a task submission.
type SubmitRequest struct {
	Kind        string
	TargetPath  string
	Description string
	TapeID      string
	RestorePath string
	Compress    bool
}

// Submit validates a request and enqueues the task. Validation failures are
// returned synchronously and never create a task.
func (d *Daemon) Submit(ctx context.Context, req SubmitRequest) (*queue.Task, error) {
	kind, ok := queue.ParseKind(req.Kind)
	if !ok {
		return nil, tasks.Wrap(tasks.ErrInvalidRequest, "submit", fmt.Sprintf("unknown task kind %q", req.Kind), nil)
	}

	task := &queue.Task{
		Kind:        kind,
		Description: strings.TrimSpace(req.Description),
		TapeID:      strings.TrimSpace(req.TapeID),
		Compress:    req.Compress,
	}

	if target := strings.TrimSpace(req.TargetPath); target != "" {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, tasks.Wrap(tasks.ErrInvalidRequest, "submit", fmt.Sprintf("resolve target path %q", target), err)
		}
		task.TargetPath = abs
	}
	if restore := strings.TrimSpace(req.RestorePath); restore != "" {
		abs, err := filepath.Abs(restore)
		if err != nil {
			return nil, tasks.Wrap(tasks.ErrInvalidRequest, "submit", fmt.Sprintf("resolve restore path %q", restore), err)
		}
		task.RestorePath = abs
	}

	boundTape, err := d.validateSubmission(ctx, task)
	if err != nil {
		return nil, err
	}

	// The insert re-checks the tape binding atomically; the validation above
	// can race a concurrent submission for the same cartridge.
	var created *queue.Task
	if boundTape != "" {
		created, err = d.store.EnqueueExclusive(ctx, task, boundTape)
		if errors.Is(err, queue.ErrTapeBound) {
			return nil, fmt.Errorf("%w: tape %s is bound to an active task", ErrResourceConflict, boundTape)
		}
	} else {
		created, err = d.store.Enqueue(ctx, task)
	}
	if err != nil {
		return nil, err
	}
	d.logger.Info("task submitted",
		logging.Int64(logging.FieldTaskID, created.ID),
		logging.String(logging.FieldTaskKind, string(created.Kind)),
		logging.String("target", created.TargetPath))
	return created, nil
}

// validateSubmission checks a submission against the store and the drive
// state. For drive-bound kinds it returns the tape whose binding the insert
// must re-check atomically.
func (d *Daemon) validateSubmission(ctx context.Context, task *queue.Task) (string, error) {
	switch task.Kind {
	case queue.KindPrepare:
		return "", d.requireFolder(task.TargetPath)

	case queue.KindArchive:
		if err := d.requireTarget(task.TargetPath); err != nil {
			return "", err
		}
		if err := d.requireKnownTape(ctx, task.TapeID); err != nil {
			return "", err
		}
		if err := d.rejectQuarantined(ctx); err != nil {
			return "", err
		}
		existing, err := d.store.FindArchivedFolderByPath(ctx, task.TargetPath)
		if err != nil {
			return "", err
		}
		if existing != nil && existing.VerificationState != queue.VerificationUnverified {
			return "", tasks.Wrap(tasks.ErrInvalidRequest, "submit",
				fmt.Sprintf("folder already archived to tape %s", existing.TapeID), nil)
		}
		return task.TapeID, d.rejectBoundTape(ctx, task.TapeID)

	case queue.KindRestore:
		if task.TargetPath == "" {
			return "", tasks.Wrap(tasks.ErrInvalidRequest, "submit", "restore requires the archived folder path", nil)
		}
		if task.RestorePath == "" {
			return "", tasks.Wrap(tasks.ErrInvalidRequest, "submit", "restore requires a destination path", nil)
		}
		folder, err := d.store.FindArchivedFolderByPath(ctx, task.TargetPath)
		if err != nil {
			return "", err
		}
		if folder == nil {
			return "", tasks.Wrap(tasks.ErrInvalidRequest, "submit",
				fmt.Sprintf("no archived folder recorded for %s", task.TargetPath), nil)
		}
		if err := d.rejectQuarantined(ctx); err != nil {
			return "", err
		}
		// The restore binds the tape the folder lives on.
		task.TapeID = folder.TapeID
		return folder.TapeID, d.rejectBoundTape(ctx, folder.TapeID)

	case queue.KindExploreMount:
		if err := d.requireKnownTape(ctx, task.TapeID); err != nil {
			return "", err
		}
		if err := d.rejectQuarantined(ctx); err != nil {
			return "", err
		}
		return task.TapeID, d.rejectBoundTape(ctx, task.TapeID)

	case queue.KindExploreUnmount:
		state, err := d.store.GetDriveState(ctx)
		if err != nil {
			return "", err
		}
		if state.State != queue.DriveHeld {
			return "", tasks.Wrap(tasks.ErrInvalidRequest, "submit", "drive is not holding an explore mount", nil)
		}
		return "", nil

	case queue.KindInventoryScan:
		if len(d.cfg.Inventory.SourceRoots) == 0 {
			return "", tasks.Wrap(tasks.ErrInvalidRequest, "submit", "no inventory source roots configured", nil)
		}
		return "", nil

	default:
		return "", tasks.Wrap(tasks.ErrInvalidRequest, "submit", fmt.Sprintf("kind %s not submittable", task.Kind), nil)
	}
}

func (d *Daemon) requireTarget(path string) error {
	if path == "" {
		return tasks.Wrap(tasks.ErrInvalidRequest, "submit", "target path is required", nil)
	}
	if _, err := os.Stat(path); err != nil {
		return tasks.Wrap(tasks.ErrInvalidRequest, "submit", fmt.Sprintf("target %s not accessible", path), err)
	}
	return nil
}

func (d *Daemon) requireFolder(path string) error {
	if path == "" {
		return tasks.Wrap(tasks.ErrInvalidRequest, "submit", "target path is required", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return tasks.Wrap(tasks.ErrInvalidRequest, "submit", fmt.Sprintf("target %s not accessible", path), err)
	}
	if !info.IsDir() {
		return tasks.Wrap(tasks.ErrInvalidRequest, "submit", fmt.Sprintf("target %s is not a folder", path), nil)
	}
	return nil
}

func (d *Daemon) requireKnownTape(ctx context.Context, tapeID string) error {
	if tapeID == "" {
		return tasks.Wrap(tasks.ErrInvalidRequest, "submit", "tape id is required", nil)
	}
	tape, err := d.store.GetTape(ctx, tapeID)
	if err != nil {
		return err
	}
	if tape == nil {
		return tasks.Wrap(tasks.ErrInvalidRequest, "submit", fmt.Sprintf("tape %s not in library inventory", tapeID), nil)
	}
	return nil
}

// rejectQuarantined refuses drive-bound submissions while the drive is
// quarantined. Queuing work behind a drive that needs operator repair would
// only hide the problem.
func (d *Daemon) rejectQuarantined(ctx context.Context) error {
	state, err := d.store.GetDriveState(ctx)
	if err != nil {
		return err
	}
	if state.State == queue.DriveQuarantined {
		return fmt.Errorf("%w: %s", arbiter.ErrQuarantined, state.Reason)
	}
	return nil
}

func (d *Daemon) rejectBoundTape(ctx context.Context, tapeID string) error {
	bound, err := d.store.TapeBoundToActiveTask(ctx, tapeID, 0)
	if err != nil {
		return err
	}
	if bound {
		return fmt.Errorf("%w: tape %s is bound to an active task", ErrResourceConflict, tapeID)
	}
	return nil
}
