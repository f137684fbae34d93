package tasks_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tarchive/internal/queue"
	"tarchive/internal/tasks"
	"tarchive/internal/testsupport"
)

func TestInventoryScanBucketsByAge(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "sources")

	old := filepath.Join(root, "ancient-footage")
	testsupport.MakeTree(t, old, map[string]string{"a.dat": "old data"})
	recent := filepath.Join(root, "fresh-project")
	testsupport.MakeTree(t, recent, map[string]string{"b.dat": "new data bytes"})
	archived := filepath.Join(root, "already-archived")
	testsupport.MakeTree(t, archived, map[string]string{"c.dat": "on tape"})

	threeYears := time.Now().Add(-3 * 365 * 24 * time.Hour)
	if err := os.Chtimes(old, threeYears, threeYears); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	env := newTestEnv(t, nil, testsupport.WithSourceRoots(root))
	ctx := context.Background()

	if _, err := env.store.InsertArchivedFolder(ctx, &queue.ArchivedFolder{
		Path:             archived,
		TapeID:           "TAPE001",
		PathOnTape:       "already-archived",
		ByteSize:         7,
		ChecksumManifest: `{"files":{}}`,
	}); err != nil {
		t.Fatalf("InsertArchivedFolder failed: %v", err)
	}

	task := env.runningTask(t, &queue.Task{Kind: queue.KindInventoryScan})
	result, err := tasks.NewInventoryScan(env.env).Execute(ctx, task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !strings.Contains(result, "2 folders not yet on tape") {
		t.Fatalf("unexpected header in result:\n%s", result)
	}
	if !strings.Contains(result, "older than two years") || !strings.Contains(result, old) {
		t.Fatalf("old folder not bucketed:\n%s", result)
	}
	if !strings.Contains(result, "recently modified") || !strings.Contains(result, recent) {
		t.Fatalf("recent folder not bucketed:\n%s", result)
	}
	if strings.Contains(result, archived) {
		t.Fatalf("archived folder must be excluded:\n%s", result)
	}
}

func TestInventoryScanRequiresRoots(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	task := env.runningTask(t, &queue.Task{Kind: queue.KindInventoryScan})
	if _, err := tasks.NewInventoryScan(env.env).Execute(ctx, task); err == nil {
		t.Fatal("expected error when no source roots configured")
	}
}
