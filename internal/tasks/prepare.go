package tasks

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"

	"tarchive/internal/logging"
	"tarchive/internal/queue"
)

// PrepareHandler measures a folder and, when its file count exceeds the
// configured threshold, packs it into a tarball. LTFS keeps the full index
// in memory and replays it on every mount, so folders with very large file
// counts must go to tape as a single object.
type PrepareHandler struct {
	env *Environment
}

// NewPrepare builds the prepare handler.
func NewPrepare(env *Environment) *PrepareHandler {
	return &PrepareHandler{env: env}
}

func (h *PrepareHandler) Kind() queue.Kind {
	return queue.KindPrepare
}

func (h *PrepareHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	logger := h.env.logger(task.Kind).With(logging.Int64(logging.FieldTaskID, task.ID))

	info, err := os.Stat(task.TargetPath)
	if err != nil {
		return "", Wrap(ErrInvalidRequest, "prepare", "target not accessible", err)
	}
	if !info.IsDir() {
		return "", Wrap(ErrInvalidRequest, "prepare", fmt.Sprintf("%s is not a folder", task.TargetPath), nil)
	}

	h.env.setPhase(ctx, task, queue.PhaseMeasuring)
	files, bytes, err := measure(task.TargetPath, h.env.Config.Archive.ExcludeFolders)
	if err != nil {
		return "", fmt.Errorf("measure folder: %w", err)
	}
	logger.Info("folder measured",
		logging.Int64("files", files),
		logging.String("size", humanize.IBytes(uint64(bytes))))

	threshold := h.env.Config.Prepare.ThresholdFiles
	if files <= threshold && !task.Compress {
		return fmt.Sprintf("%s files (%s); fits direct archive",
			humanize.Comma(files), humanize.IBytes(uint64(bytes))), nil
	}

	h.env.setPhase(ctx, task, queue.PhaseCompressing)
	artifact := filepath.Join(h.env.Config.Paths.ScratchDir, filepath.Base(task.TargetPath)+".tar.gz")
	if _, err := os.Stat(artifact); err == nil {
		return "", Wrap(ErrInvalidRequest, "prepare", fmt.Sprintf("artifact %s already exists", artifact), nil)
	}
	if err := os.MkdirAll(h.env.Config.Paths.ScratchDir, 0o750); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	if err := packTarball(ctx, task.TargetPath, artifact, h.env.Config.Archive.ExcludeFolders); err != nil {
		// Half-written tarballs must not survive a failure.
		_ = os.Remove(artifact)
		return "", fmt.Errorf("pack tarball: %w", err)
	}

	packed, err := os.Stat(artifact)
	if err != nil {
		return "", fmt.Errorf("stat tarball: %w", err)
	}
	logger.Info("folder packed",
		logging.String("artifact", artifact),
		logging.String("size", humanize.IBytes(uint64(packed.Size()))))

	return fmt.Sprintf("%s files (%s); packed to %s (%s)",
		humanize.Comma(files),
		humanize.IBytes(uint64(bytes)),
		artifact,
		humanize.IBytes(uint64(packed.Size()))), nil
}

func packTarball(ctx context.Context, root, artifact string, exclude []string) error {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	out, err := os.OpenFile(artifact, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", artifact, err)
	}
	defer out.Close()

	gzWriter := gzip.NewWriter(out)
	tarWriter := tar.NewWriter(gzWriter)

	var files []string
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := excluded[entry.Name()]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)

	base := filepath.Base(root)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addTarEntry(tarWriter, root, base, path); err != nil {
			return err
		}
	}

	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("finalize gzip: %w", err)
	}
	return out.Close()
}

func addTarEntry(tw *tar.Writer, root, base, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return fmt.Errorf("relativize %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("tar header %s: %w", path, err)
	}
	header.Name = filepath.ToSlash(filepath.Join(base, rel))
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header %s: %w", path, err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
