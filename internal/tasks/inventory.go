package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tarchive/internal/logging"
	"tarchive/internal/queue"
)

// InventoryScanHandler walks the configured source roots and reports the
// folders not yet on tape, grouped by age so the oldest and largest archive
// candidates surface first.
type InventoryScanHandler struct {
	env *Environment
	now func() time.Time
}

// NewInventoryScan builds the inventory handler.
func NewInventoryScan(env *Environment) *InventoryScanHandler {
	return &InventoryScanHandler{env: env, now: time.Now}
}

func (h *InventoryScanHandler) Kind() queue.Kind {
	return queue.KindInventoryScan
}

type candidate struct {
	path     string
	bytes    int64
	files    int64
	modified time.Time
}

type ageBucket struct {
	label      string
	minAge     time.Duration
	candidates []candidate
}

func (h *InventoryScanHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	roots := h.env.Config.Inventory.SourceRoots
	if len(roots) == 0 {
		return "", Wrap(ErrInvalidRequest, "inventory", "no source roots configured", nil)
	}

	h.env.setPhase(ctx, task, queue.PhaseScanning)
	logger := h.env.logger(task.Kind).With(logging.Int64(logging.FieldTaskID, task.ID))

	var candidates []candidate
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		found, err := h.scanRoot(ctx, root)
		if err != nil {
			logger.Warn("source root skipped",
				logging.String("root", root),
				logging.Error(err))
			continue
		}
		candidates = append(candidates, found...)
	}

	buckets := bucketByAge(candidates, h.now())
	var totalBytes int64
	for _, c := range candidates {
		totalBytes += c.bytes
	}

	if err := h.env.Notifier.NotifyInventoryCompleted(ctx, len(candidates), totalBytes); err != nil {
		logger.Warn("notification not delivered", logging.Error(err))
	}
	logger.Info("inventory complete",
		logging.Int("candidates", len(candidates)),
		logging.String("total", humanize.IBytes(uint64(totalBytes))))

	return renderInventory(buckets, len(candidates), totalBytes, h.now()), nil
}

// scanRoot inspects the immediate subdirectories of root. Folders already
// archived and verified are excluded.
func (h *InventoryScanHandler) scanRoot(ctx context.Context, root string) ([]candidate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	var candidates []candidate
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())

		archived, err := h.env.Store.FindArchivedFolderByPath(ctx, path)
		if err != nil {
			return nil, err
		}
		if archived != nil && archived.VerificationState != queue.VerificationUnverified {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		files, bytes, err := measure(path, h.env.Config.Archive.ExcludeFolders)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path:     path,
			bytes:    bytes,
			files:    files,
			modified: info.ModTime(),
		})
	}
	return candidates, nil
}

func bucketByAge(candidates []candidate, now time.Time) []ageBucket {
	buckets := []ageBucket{
		{label: "older than two years", minAge: 2 * 365 * 24 * time.Hour},
		{label: "older than one year", minAge: 365 * 24 * time.Hour},
		{label: "older than six months", minAge: 183 * 24 * time.Hour},
		{label: "recently modified", minAge: 0},
	}
	for _, c := range candidates {
		age := now.Sub(c.modified)
		for i := range buckets {
			if age >= buckets[i].minAge {
				buckets[i].candidates = append(buckets[i].candidates, c)
				break
			}
		}
	}
	for i := range buckets {
		sort.Slice(buckets[i].candidates, func(a, b int) bool {
			return buckets[i].candidates[a].bytes > buckets[i].candidates[b].bytes
		})
	}
	return buckets
}

func renderInventory(buckets []ageBucket, count int, totalBytes int64, now time.Time) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "%d folders not yet on tape (%s)\n",
		count, humanize.IBytes(uint64(totalBytes)))
	for _, bucket := range buckets {
		if len(bucket.candidates) == 0 {
			continue
		}
		fmt.Fprintf(&builder, "\n%s:\n", bucket.label)
		for _, c := range bucket.candidates {
			fmt.Fprintf(&builder, "  %s  %s  %s files  modified %s\n",
				c.path,
				humanize.IBytes(uint64(c.bytes)),
				humanize.Comma(c.files),
				humanize.RelTime(c.modified, now, "ago", "from now"))
		}
	}
	return strings.TrimRight(builder.String(), "\n")
}
