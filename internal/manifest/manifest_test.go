package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"tarchive/internal/manifest"
	"tarchive/internal/testsupport"
)

func TestBuildHashesTree(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeTree(t, root, map[string]string{
		"report.txt":        "quarterly numbers",
		"raw/session1.dat":  "aaaa",
		"raw/session2.dat":  "bbbbbb",
		"notes/editing.txt": "cut at frame 1200",
	})

	built, err := manifest.Build(root, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if built.FileCount() != 4 {
		t.Fatalf("expected 4 files, got %d", built.FileCount())
	}
	entry, ok := built.Files["raw/session2.dat"]
	if !ok {
		t.Fatal("expected raw/session2.dat in manifest")
	}
	if entry.Size != 6 {
		t.Fatalf("expected size 6, got %d", entry.Size)
	}
	if built.TotalBytes() != int64(len("quarterly numbers")+4+6+len("cut at frame 1200")) {
		t.Fatalf("unexpected total bytes %d", built.TotalBytes())
	}
}

func TestBuildSkipsExcludedFolders(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeTree(t, root, map[string]string{
		"keep.txt":            "keep",
		".snapshots/old.txt":  "stale",
		"sub/.snapshots/x.md": "stale too",
		"sub/real.txt":        "real",
	})

	built, err := manifest.Build(root, []string{".snapshots"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if built.FileCount() != 2 {
		t.Fatalf("expected 2 files, got %d: %#v", built.FileCount(), built.Files)
	}
	if _, ok := built.Files[".snapshots/old.txt"]; ok {
		t.Fatal("excluded folder leaked into manifest")
	}
}

func TestCompareDetectsCorruption(t *testing.T) {
	source := t.TempDir()
	testsupport.MakeTree(t, source, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "bravo",
	})
	copyDir := t.TempDir()
	testsupport.MakeTree(t, copyDir, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "bravo",
	})

	want, err := manifest.Build(source, nil)
	if err != nil {
		t.Fatalf("Build source failed: %v", err)
	}
	got, err := manifest.Build(copyDir, nil)
	if err != nil {
		t.Fatalf("Build copy failed: %v", err)
	}
	if mismatches := manifest.Compare(want, got); len(mismatches) != 0 {
		t.Fatalf("expected identical trees, got %v", mismatches)
	}

	// Same size, different content.
	testsupport.WriteFile(t, filepath.Join(copyDir, "sub/b.txt"), "bravx")
	corrupt, err := manifest.Build(copyDir, nil)
	if err != nil {
		t.Fatalf("Build corrupt failed: %v", err)
	}
	mismatches := manifest.Compare(want, corrupt)
	if len(mismatches) != 1 {
		t.Fatalf("expected 1 mismatch, got %v", mismatches)
	}
	if mismatches[0].Path != "sub/b.txt" || mismatches[0].Reason != "checksum mismatch" {
		t.Fatalf("unexpected mismatch: %v", mismatches[0])
	}
}

func TestCompareReportsMissingAndExtra(t *testing.T) {
	source := t.TempDir()
	testsupport.MakeTree(t, source, map[string]string{
		"a.txt": "alpha",
		"b.txt": "bravo",
	})
	copyDir := t.TempDir()
	testsupport.MakeTree(t, copyDir, map[string]string{
		"a.txt":     "alpha",
		"extra.txt": "surprise",
	})

	want, err := manifest.Build(source, nil)
	if err != nil {
		t.Fatalf("Build source failed: %v", err)
	}
	got, err := manifest.Build(copyDir, nil)
	if err != nil {
		t.Fatalf("Build copy failed: %v", err)
	}

	mismatches := manifest.Compare(want, got)
	if len(mismatches) != 2 {
		t.Fatalf("expected 2 mismatches, got %v", mismatches)
	}
	if mismatches[0].Path != "b.txt" || mismatches[0].Reason != "missing" {
		t.Fatalf("unexpected first mismatch: %v", mismatches[0])
	}
	if mismatches[1].Path != "extra.txt" || mismatches[1].Reason != "unexpected" {
		t.Fatalf("unexpected second mismatch: %v", mismatches[1])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeTree(t, root, map[string]string{"a.txt": "alpha"})

	built, err := manifest.Build(root, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	encoded, err := built.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := manifest.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if mismatches := manifest.Compare(built, decoded); len(mismatches) != 0 {
		t.Fatalf("round trip diverged: %v", mismatches)
	}
}

func TestBuildSkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	testsupport.MakeTree(t, root, map[string]string{"a.txt": "alpha"})
	if err := os.Symlink(filepath.Join(root, "a.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	built, err := manifest.Build(root, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if built.FileCount() != 1 {
		t.Fatalf("expected symlink skipped, got %#v", built.Files)
	}
}
