package tasks_test

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tarchive/internal/queue"
	"tarchive/internal/tasks"
	"tarchive/internal/testsupport"
)

func TestPrepareBelowThresholdSkipsPacking(t *testing.T) {
	env := newTestEnv(t, nil, testsupport.WithPrepareThreshold(3))
	ctx := context.Background()

	source := filepath.Join(testsupport.BaseDir(env.cfg), "small")
	testsupport.MakeTree(t, source, map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
		"c.txt": "charlie",
	})

	task := env.runningTask(t, &queue.Task{Kind: queue.KindPrepare, TargetPath: source})
	result, err := tasks.NewPrepare(env.env).Execute(ctx, task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result, "fits direct archive") {
		t.Fatalf("unexpected result: %q", result)
	}
	if _, err := os.Stat(scratchArtifact(env, source)); !os.IsNotExist(err) {
		t.Fatal("no tarball expected at or below the threshold")
	}
}

func TestPrepareAboveThresholdPacksTarball(t *testing.T) {
	env := newTestEnv(t, nil, testsupport.WithPrepareThreshold(3))
	ctx := context.Background()

	source := filepath.Join(testsupport.BaseDir(env.cfg), "large")
	testsupport.MakeTree(t, source, map[string]string{
		"a.txt":     "alpha",
		"b.txt":     "bravo",
		"c.txt":     "charlie",
		"sub/d.txt": "delta",
	})

	task := env.runningTask(t, &queue.Task{Kind: queue.KindPrepare, TargetPath: source})
	result, err := tasks.NewPrepare(env.env).Execute(ctx, task)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result, "packed to") {
		t.Fatalf("unexpected result: %q", result)
	}

	names := readTarballNames(t, scratchArtifact(env, source))
	if len(names) != 4 {
		t.Fatalf("expected 4 entries, got %v", names)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, "large/") {
			t.Fatalf("entry %q not rooted at folder name", name)
		}
	}
}

func TestPrepareRejectsMissingTarget(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	task := env.runningTask(t, &queue.Task{
		Kind:       queue.KindPrepare,
		TargetPath: filepath.Join(testsupport.BaseDir(env.cfg), "does-not-exist"),
	})
	_, err := tasks.NewPrepare(env.env).Execute(ctx, task)
	if !errors.Is(err, tasks.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestPrepareRejectsExistingArtifact(t *testing.T) {
	env := newTestEnv(t, nil, testsupport.WithPrepareThreshold(0))
	ctx := context.Background()

	source := filepath.Join(testsupport.BaseDir(env.cfg), "clash")
	testsupport.MakeTree(t, source, map[string]string{"a.txt": "alpha"})
	testsupport.WriteFile(t, scratchArtifact(env, source), "stale artifact")

	task := env.runningTask(t, &queue.Task{Kind: queue.KindPrepare, TargetPath: source})
	_, err := tasks.NewPrepare(env.env).Execute(ctx, task)
	if !errors.Is(err, tasks.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func scratchArtifact(env *testEnv, source string) string {
	return filepath.Join(env.cfg.Paths.ScratchDir, filepath.Base(source)+".tar.gz")
}

func readTarballNames(t *testing.T, path string) []string {
	t.Helper()

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open tarball: %v", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		t.Fatalf("open gzip stream: %v", err)
	}
	defer gzReader.Close()

	var names []string
	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read tar entry: %v", err)
		}
		names = append(names, header.Name)
	}
	return names
}
