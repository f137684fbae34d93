package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"tarchive/internal/arbiter"
	"tarchive/internal/device"
	"tarchive/internal/logging"
	"tarchive/internal/manifest"
	"tarchive/internal/queue"
)

// ArchiveHandler copies a folder to a cartridge and verifies the copy. The
// folder record is created only after every file on tape matches the source
// manifest; a mismatch fails the task and leaves the source untouched.
type ArchiveHandler struct {
	env *Environment
}

// NewArchive builds the archive handler.
func NewArchive(env *Environment) *ArchiveHandler {
	return &ArchiveHandler{env: env}
}

func (h *ArchiveHandler) Kind() queue.Kind {
	return queue.KindArchive
}

func (h *ArchiveHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	logger := h.env.logger(task.Kind).With(
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldTapeID, task.TapeID))

	sourceManifest, compressed, err := h.validate(ctx, task)
	if err != nil {
		return "", err
	}
	totalBytes := sourceManifest.TotalBytes()

	h.env.setPhase(ctx, task, queue.PhaseAcquiring)
	if err := h.env.Arbiter.Acquire(ctx, task.ID); err != nil {
		return "", err
	}

	result, err := h.run(ctx, task, logger, sourceManifest, compressed, totalBytes)
	if err != nil {
		h.releaseAfterFailure(ctx, task, err)
		return "", err
	}
	return result, nil
}

func (h *ArchiveHandler) run(ctx context.Context, task *queue.Task, logger *slog.Logger, sourceManifest *manifest.Manifest, compressed bool, totalBytes int64) (string, error) {
	h.env.setPhase(ctx, task, queue.PhaseLoading)
	if err := h.env.Arbiter.EnsureMounted(ctx, task.TapeID); err != nil {
		return "", err
	}
	mountPoint := h.env.Driver.MountPoint()
	if err := h.checkTapeConsistency(ctx, task.TapeID, mountPoint, logger); err != nil {
		return "", err
	}

	free, err := device.FreeBytes(mountPoint)
	if err != nil {
		return "", fmt.Errorf("read tape free space: %w", err)
	}
	if free < totalBytes {
		return "", Wrap(ErrInvalidRequest, "archive",
			fmt.Sprintf("tape %s has %s free, folder needs %s",
				task.TapeID, humanize.IBytes(uint64(free)), humanize.IBytes(uint64(totalBytes))), nil)
	}

	pathOnTape := filepath.Base(task.TargetPath)
	dest := filepath.Join(mountPoint, pathOnTape)
	if _, err := os.Stat(dest); err == nil {
		return "", Wrap(ErrInvalidRequest, "archive",
			fmt.Sprintf("%s already exists on tape %s", pathOnTape, task.TapeID), nil)
	}

	h.env.setPhase(ctx, task, queue.PhaseTransfer)
	if compressed {
		if err := copyFile(task.TargetPath, dest); err != nil {
			return "", fmt.Errorf("copy artifact to tape: %w", err)
		}
	} else {
		if err := copyTree(ctx, task.TargetPath, dest, h.env.Config.Archive.ExcludeFolders); err != nil {
			return "", fmt.Errorf("copy folder to tape: %w", err)
		}
	}

	h.env.setPhase(ctx, task, queue.PhaseVerifying)
	var tapeManifest *manifest.Manifest
	if compressed {
		tapeManifest, err = manifest.BuildFile(dest)
	} else {
		tapeManifest, err = manifest.Build(dest, nil)
	}
	if err != nil {
		return "", fmt.Errorf("read back tape copy: %w", err)
	}
	if mismatches := manifest.Compare(sourceManifest, tapeManifest); len(mismatches) > 0 {
		logger.Error("verification failed",
			logging.Int("mismatches", len(mismatches)),
			logging.String("first", mismatches[0].String()))
		if err := h.env.Notifier.NotifyVerificationFailed(ctx, task.TargetPath, task.TapeID, len(mismatches)); err != nil {
			logger.Warn("notification not delivered", logging.Error(err))
		}
		return "", Wrap(ErrVerificationFailed, "archive",
			fmt.Sprintf("%d of %d files diverge on tape, first: %s",
				len(mismatches), sourceManifest.FileCount(), mismatches[0]), nil)
	}

	encoded, err := sourceManifest.Encode()
	if err != nil {
		return "", err
	}
	if _, err := h.env.Store.InsertArchivedFolder(ctx, &queue.ArchivedFolder{
		Path:             task.TargetPath,
		Description:      task.Description,
		TapeID:           task.TapeID,
		PathOnTape:       pathOnTape,
		ByteSize:         totalBytes,
		Compressed:       compressed,
		ChecksumManifest: encoded,
	}); err != nil {
		return "", err
	}

	if freeAfter, err := device.FreeBytes(mountPoint); err == nil {
		if tape, tapeErr := h.env.Store.GetTape(ctx, task.TapeID); tapeErr == nil && tape != nil {
			used := tape.CapacityBytes - freeAfter
			if used < 0 {
				used = 0
			}
			if err := h.env.Store.SetTapeUsedBytes(ctx, task.TapeID, used); err != nil {
				logger.Warn("tape usage not recorded", logging.Error(err))
			}
		}
	}

	h.env.setPhase(ctx, task, queue.PhaseUnmounting)
	if err := h.env.Arbiter.Dismount(ctx); err != nil {
		return "", err
	}
	h.env.setPhase(ctx, task, queue.PhaseReleasing)
	if err := h.env.Arbiter.Release(ctx); err != nil {
		return "", err
	}

	if err := h.env.Notifier.NotifyArchiveVerified(ctx, task.TargetPath, task.TapeID, totalBytes); err != nil {
		logger.Warn("notification not delivered", logging.Error(err))
	}
	logger.Info("archive verified",
		logging.Int("files", sourceManifest.FileCount()),
		logging.String("size", humanize.IBytes(uint64(totalBytes))))

	return fmt.Sprintf("%d files (%s) written to %s and verified",
		sourceManifest.FileCount(), humanize.IBytes(uint64(totalBytes)), task.TapeID), nil
}

// validate checks the request against the store and builds the source
// manifest before any hardware is touched.
func (h *ArchiveHandler) validate(ctx context.Context, task *queue.Task) (*manifest.Manifest, bool, error) {
	info, err := os.Stat(task.TargetPath)
	if err != nil {
		return nil, false, Wrap(ErrInvalidRequest, "archive", "target not accessible", err)
	}

	tape, err := h.env.Store.GetTape(ctx, task.TapeID)
	if err != nil {
		return nil, false, err
	}
	if tape == nil {
		return nil, false, Wrap(ErrInvalidRequest, "archive",
			fmt.Sprintf("tape %s is not known to the library", task.TapeID), nil)
	}

	existing, err := h.env.Store.FindArchivedFolderByPath(ctx, task.TargetPath)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.VerificationState != queue.VerificationUnverified {
		return nil, false, Wrap(ErrInvalidRequest, "archive",
			fmt.Sprintf("%s already archived to %s", task.TargetPath, existing.TapeID), nil)
	}

	h.env.setPhase(ctx, task, queue.PhaseMeasuring)
	if info.IsDir() {
		built, err := manifest.Build(task.TargetPath, h.env.Config.Archive.ExcludeFolders)
		if err != nil {
			return nil, false, err
		}
		return built, false, nil
	}
	built, err := manifest.BuildFile(task.TargetPath)
	if err != nil {
		return nil, false, err
	}
	return built, true, nil
}

// checkTapeConsistency compares the mounted filesystem against the recorded
// archive inventory for the cartridge. A recorded folder missing from the
// tape means store and cartridge have diverged, and writing more data before
// an operator looks at it would only deepen the damage.
func (h *ArchiveHandler) checkTapeConsistency(ctx context.Context, tapeID, mountPoint string, logger *slog.Logger) error {
	folders, err := h.env.Store.ListArchivedFolders(ctx, tapeID)
	if err != nil {
		return err
	}
	var missing []string
	for _, folder := range folders {
		if _, err := os.Stat(filepath.Join(mountPoint, folder.PathOnTape)); err != nil {
			logger.Error("recorded folder missing from tape",
				logging.String("path_on_tape", folder.PathOnTape),
				logging.String(logging.FieldTapeID, tapeID))
			missing = append(missing, folder.PathOnTape)
		}
	}
	if len(missing) > 0 {
		return Wrap(ErrVerificationFailed, "archive",
			fmt.Sprintf("tape %s is missing %d recorded folder(s), first: %s",
				tapeID, len(missing), missing[0]), nil)
	}
	return nil
}

// releaseAfterFailure puts the drive back into a safe state after a failed
// run. A quarantine stays; anything else gets a best-effort dismount and
// release so the next task finds a free drive.
func (h *ArchiveHandler) releaseAfterFailure(ctx context.Context, task *queue.Task, cause error) {
	releaseDrive(ctx, h.env, task, cause)
}

func releaseDrive(ctx context.Context, env *Environment, task *queue.Task, cause error) {
	logger := env.logger(task.Kind).With(logging.Int64(logging.FieldTaskID, task.ID))
	if errors.Is(cause, arbiter.ErrQuarantined) {
		return
	}
	if errors.Is(cause, arbiter.ErrDriveBusy) || errors.Is(cause, arbiter.ErrDriveHeld) {
		// Never acquired the drive.
		return
	}
	if err := env.Arbiter.Dismount(ctx); err != nil {
		logger.Error("drive not recovered after failure", logging.Error(err))
		return
	}
	if err := env.Arbiter.Release(ctx); err != nil {
		logger.Error("drive not released after failure", logging.Error(err))
	}
}
