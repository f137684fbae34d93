package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"tarchive/internal/logging"
	"tarchive/internal/manifest"
	"tarchive/internal/queue"
)

// RestoreHandler copies an archived folder from tape back to disk and
// verifies the restored tree against the manifest recorded at archive time.
type RestoreHandler struct {
	env *Environment
}

// NewRestore builds the restore handler.
func NewRestore(env *Environment) *RestoreHandler {
	return &RestoreHandler{env: env}
}

func (h *RestoreHandler) Kind() queue.Kind {
	return queue.KindRestore
}

func (h *RestoreHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	logger := h.env.logger(task.Kind).With(logging.Int64(logging.FieldTaskID, task.ID))

	folder, storedManifest, err := h.validate(ctx, task)
	if err != nil {
		return "", err
	}

	h.env.setPhase(ctx, task, queue.PhaseAcquiring)
	if err := h.env.Arbiter.Acquire(ctx, task.ID); err != nil {
		return "", err
	}

	result, err := h.run(ctx, task, logger, folder, storedManifest)
	if err != nil {
		releaseDrive(ctx, h.env, task, err)
		return "", err
	}
	return result, nil
}

func (h *RestoreHandler) run(ctx context.Context, task *queue.Task, logger *slog.Logger, folder *queue.ArchivedFolder, storedManifest *manifest.Manifest) (string, error) {
	h.env.setPhase(ctx, task, queue.PhaseLoading)
	if err := h.env.Arbiter.EnsureMounted(ctx, folder.TapeID); err != nil {
		return "", err
	}

	src := filepath.Join(h.env.Driver.MountPoint(), folder.PathOnTape)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("archived copy missing from tape %s: %w", folder.TapeID, err)
	}

	h.env.setPhase(ctx, task, queue.PhaseTransfer)
	if folder.Compressed {
		if err := copyFile(src, filepath.Join(task.RestorePath, folder.PathOnTape)); err != nil {
			return "", fmt.Errorf("copy artifact from tape: %w", err)
		}
	} else {
		if err := copyTree(ctx, src, task.RestorePath, nil); err != nil {
			return "", fmt.Errorf("copy folder from tape: %w", err)
		}
	}

	h.env.setPhase(ctx, task, queue.PhaseVerifying)
	var restored *manifest.Manifest
	var err error
	if folder.Compressed {
		restored, err = manifest.BuildFile(filepath.Join(task.RestorePath, folder.PathOnTape))
	} else {
		restored, err = manifest.Build(task.RestorePath, nil)
	}
	if err != nil {
		return "", fmt.Errorf("read back restored data: %w", err)
	}
	if mismatches := manifest.Compare(storedManifest, restored); len(mismatches) > 0 {
		// The copy on tape no longer matches its recorded manifest, so the
		// folder must not stay eligible for deleteable promotion.
		if demoteErr := h.env.Store.DemoteUnverified(ctx, folder.ID); demoteErr != nil {
			logger.Error("folder not demoted after restore mismatch", logging.Error(demoteErr))
		}
		return "", Wrap(ErrVerificationFailed, "restore",
			fmt.Sprintf("%d files diverge after restore, first: %s", len(mismatches), mismatches[0]), nil)
	}

	h.env.setPhase(ctx, task, queue.PhaseUnmounting)
	if err := h.env.Arbiter.Dismount(ctx); err != nil {
		return "", err
	}
	h.env.setPhase(ctx, task, queue.PhaseReleasing)
	if err := h.env.Arbiter.Release(ctx); err != nil {
		return "", err
	}

	if err := h.env.Notifier.NotifyRestoreCompleted(ctx, folder.Path, task.RestorePath); err != nil {
		logger.Warn("notification not delivered", logging.Error(err))
	}
	logger.Info("restore verified",
		logging.String("destination", task.RestorePath),
		logging.String("size", humanize.IBytes(uint64(folder.ByteSize))))

	return fmt.Sprintf("%s restored from %s to %s and verified",
		folder.Path, folder.TapeID, task.RestorePath), nil
}

func (h *RestoreHandler) validate(ctx context.Context, task *queue.Task) (*queue.ArchivedFolder, *manifest.Manifest, error) {
	folder, err := h.env.Store.FindArchivedFolderByPath(ctx, task.TargetPath)
	if err != nil {
		return nil, nil, err
	}
	if folder == nil {
		return nil, nil, Wrap(ErrInvalidRequest, "restore",
			fmt.Sprintf("%s was never archived", task.TargetPath), nil)
	}

	storedManifest, err := manifest.Decode(folder.ChecksumManifest)
	if err != nil {
		return nil, nil, fmt.Errorf("stored manifest unreadable: %w", err)
	}

	if task.RestorePath == "" {
		return nil, nil, Wrap(ErrInvalidRequest, "restore", "restore destination is required", nil)
	}
	entries, err := os.ReadDir(task.RestorePath)
	if err == nil && len(entries) > 0 {
		return nil, nil, Wrap(ErrInvalidRequest, "restore",
			fmt.Sprintf("destination %s is not empty", task.RestorePath), nil)
	}
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, Wrap(ErrInvalidRequest, "restore", "destination not accessible", err)
		}
		if err := os.MkdirAll(task.RestorePath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create destination: %w", err)
		}
	}
	return folder, storedManifest, nil
}
