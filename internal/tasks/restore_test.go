package tasks_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tarchive/internal/manifest"
	"tarchive/internal/queue"
	"tarchive/internal/tasks"
	"tarchive/internal/testsupport"
)

func seedArchivedFolder(t *testing.T, env *testEnv, sourcePath, tapeID string, files map[string]string) *queue.ArchivedFolder {
	t.Helper()

	// Place the archived copy on the fake cartridge and record it with a
	// manifest built from that copy.
	onTape := filepath.Join(env.cfg.Paths.MountPoint, filepath.Base(sourcePath))
	testsupport.MakeTree(t, onTape, files)

	built, err := manifest.Build(onTape, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	encoded, err := built.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	folder, err := env.store.InsertArchivedFolder(context.Background(), &queue.ArchivedFolder{
		Path:             sourcePath,
		TapeID:           tapeID,
		PathOnTape:       filepath.Base(sourcePath),
		ByteSize:         built.TotalBytes(),
		ChecksumManifest: encoded,
	})
	if err != nil {
		t.Fatalf("InsertArchivedFolder failed: %v", err)
	}
	return folder
}

func TestRestoreCopiesAndVerifies(t *testing.T) {
	env := newTestEnv(t, []string{"TAPE001"})
	ctx := context.Background()

	seedArchivedFolder(t, env, "/srv/projects/alpha", "TAPE001", map[string]string{
		"report.txt":       "quarterly numbers",
		"raw/session1.dat": "aaaa",
	})

	dest := filepath.Join(testsupport.BaseDir(env.cfg), "restored")
	task := env.runningTask(t, &queue.Task{
		Kind:        queue.KindRestore,
		TargetPath:  "/srv/projects/alpha",
		RestorePath: dest,
	})

	if _, err := tasks.NewRestore(env.env).Execute(ctx, task); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	restored, err := os.ReadFile(filepath.Join(dest, "raw", "session1.dat"))
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if string(restored) != "aaaa" {
		t.Fatalf("restored file corrupted: %q", restored)
	}
	if env.driveState(t) != queue.DriveFree {
		t.Fatalf("expected free drive, got %s", env.driveState(t))
	}
}

func TestRestoreDetectsTapeCorruption(t *testing.T) {
	env := newTestEnv(t, []string{"TAPE001"})
	ctx := context.Background()

	folder := seedArchivedFolder(t, env, "/srv/projects/beta", "TAPE001", map[string]string{
		"data.bin": "original",
	})

	// Corrupt the copy on tape after the manifest was recorded.
	testsupport.WriteFile(t,
		filepath.Join(env.cfg.Paths.MountPoint, folder.PathOnTape, "data.bin"),
		"corrupt!")

	dest := filepath.Join(testsupport.BaseDir(env.cfg), "restored")
	task := env.runningTask(t, &queue.Task{
		Kind:        queue.KindRestore,
		TargetPath:  "/srv/projects/beta",
		RestorePath: dest,
	})

	_, err := tasks.NewRestore(env.env).Execute(ctx, task)
	if !errors.Is(err, tasks.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	failure := tasks.Classify(err, task.Phase)
	if failure.Kind != queue.FailVerificationFailed {
		t.Fatalf("expected verification-failed classification, got %s", failure.Kind)
	}
	if env.driveState(t) != queue.DriveFree {
		t.Fatalf("expected drive recovered after failure, got %s", env.driveState(t))
	}

	// The folder record lost its verified standing.
	demoted, err := env.store.GetArchivedFolder(ctx, folder.ID)
	if err != nil {
		t.Fatalf("GetArchivedFolder failed: %v", err)
	}
	if demoted.VerificationState != queue.VerificationUnverified {
		t.Fatalf("expected folder demoted to unverified, got %s", demoted.VerificationState)
	}
}

func TestRestoreRejectsUnknownFolder(t *testing.T) {
	env := newTestEnv(t, []string{"TAPE001"})
	ctx := context.Background()

	task := env.runningTask(t, &queue.Task{
		Kind:        queue.KindRestore,
		TargetPath:  "/srv/never-archived",
		RestorePath: filepath.Join(testsupport.BaseDir(env.cfg), "out"),
	})
	_, err := tasks.NewRestore(env.env).Execute(ctx, task)
	if !errors.Is(err, tasks.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRestoreRejectsNonEmptyDestination(t *testing.T) {
	env := newTestEnv(t, []string{"TAPE001"})
	ctx := context.Background()

	seedArchivedFolder(t, env, "/srv/projects/gamma", "TAPE001", map[string]string{
		"a.txt": "alpha",
	})
	dest := filepath.Join(testsupport.BaseDir(env.cfg), "occupied")
	testsupport.MakeTree(t, dest, map[string]string{"existing.txt": "do not overwrite"})

	task := env.runningTask(t, &queue.Task{
		Kind:        queue.KindRestore,
		TargetPath:  "/srv/projects/gamma",
		RestorePath: dest,
	})
	_, err := tasks.NewRestore(env.env).Execute(ctx, task)
	if !errors.Is(err, tasks.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
