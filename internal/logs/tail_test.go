package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tarchive/internal/logs"
)

func writeLog(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tarchived.log")
	if err := os.WriteFile(path, []byte(lines), 0o640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestTailLastLines(t *testing.T) {
	path := writeLog(t, "one\ntwo\nthree\nfour\n")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(result.Lines) != 2 || result.Lines[0] != "three" || result.Lines[1] != "four" {
		t.Fatalf("unexpected lines %v", result.Lines)
	}
	if result.Offset == 0 {
		t.Fatal("expected end-of-file offset")
	}
}

func TestTailResumesFromOffset(t *testing.T) {
	path := writeLog(t, "one\ntwo\n")
	ctx := context.Background()

	first, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 10})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err := file.WriteString("three\n"); err != nil {
		t.Fatalf("WriteString failed: %v", err)
	}
	file.Close()

	second, err := logs.Tail(ctx, path, logs.TailOptions{Offset: first.Offset})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(second.Lines) != 1 || second.Lines[0] != "three" {
		t.Fatalf("unexpected lines %v", second.Lines)
	}
}

func TestTailMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.log")

	result, err := logs.Tail(context.Background(), path, logs.TailOptions{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(result.Lines) != 0 || result.Offset != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestTailHandlesTruncation(t *testing.T) {
	path := writeLog(t, "one\ntwo\nthree\n")
	ctx := context.Background()

	first, err := logs.Tail(ctx, path, logs.TailOptions{Offset: -1, Limit: 10})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("fresh\n"), 0o640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	result, err := logs.Tail(ctx, path, logs.TailOptions{Offset: first.Offset})
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(result.Lines) != 0 {
		t.Fatalf("expected clamp to new end, got %v", result.Lines)
	}
	if result.Offset != 6 {
		t.Fatalf("expected offset 6, got %d", result.Offset)
	}
}
