package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry records one file's identity within a folder.
type Entry struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest maps slash-separated relative paths to file identities. It is the
// evidence a copy on tape matches the source folder byte for byte.
type Manifest struct {
	Files map[string]Entry `json:"files"`
}

// Mismatch describes one divergence between two manifests.
type Mismatch struct {
	Path   string
	Reason string
}

func (m Mismatch) String() string {
	return m.Path + ": " + m.Reason
}

// Build walks root and hashes every regular file. Symlinks and other special
// files are skipped; LTFS does not round-trip them. Directory names listed in
// exclude are pruned at any depth.
func Build(root string, exclude []string) (*Manifest, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	manifest := &Manifest{Files: make(map[string]Entry)}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
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
		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		digest, err := hashFile(path)
		if err != nil {
			return err
		}
		manifest.Files[filepath.ToSlash(rel)] = Entry{Size: info.Size(), SHA256: digest}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("build manifest for %s: %w", root, err)
	}
	return manifest, nil
}

// BuildFile produces a single-entry manifest for one regular file, keyed by
// its base name. Used when a compressed artifact is archived instead of a
// folder tree.
func BuildFile(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	digest, err := hashFile(path)
	if err != nil {
		return nil, err
	}
	return &Manifest{Files: map[string]Entry{
		filepath.Base(path): {Size: info.Size(), SHA256: digest},
	}}, nil
}

// Compare returns the divergences of got from want. An empty result means
// the trees are identical in membership, size, and content.
func Compare(want, got *Manifest) []Mismatch {
	var mismatches []Mismatch

	paths := make([]string, 0, len(want.Files))
	for path := range want.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		expected := want.Files[path]
		actual, ok := got.Files[path]
		switch {
		case !ok:
			mismatches = append(mismatches, Mismatch{Path: path, Reason: "missing"})
		case actual.Size != expected.Size:
			mismatches = append(mismatches, Mismatch{
				Path:   path,
				Reason: fmt.Sprintf("size %d, expected %d", actual.Size, expected.Size),
			})
		case !strings.EqualFold(actual.SHA256, expected.SHA256):
			mismatches = append(mismatches, Mismatch{Path: path, Reason: "checksum mismatch"})
		}
	}

	extras := make([]string, 0)
	for path := range got.Files {
		if _, ok := want.Files[path]; !ok {
			extras = append(extras, path)
		}
	}
	sort.Strings(extras)
	for _, path := range extras {
		mismatches = append(mismatches, Mismatch{Path: path, Reason: "unexpected"})
	}
	return mismatches
}

// TotalBytes sums the recorded file sizes.
func (m *Manifest) TotalBytes() int64 {
	var total int64
	for _, entry := range m.Files {
		total += entry.Size
	}
	return total
}

// FileCount returns the number of recorded files.
func (m *Manifest) FileCount() int {
	return len(m.Files)
}

// Encode serializes the manifest for storage alongside the task record.
func (m *Manifest) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	return string(data), nil
}

// Decode parses a stored manifest.
func Decode(data string) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal([]byte(data), &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Files == nil {
		manifest.Files = make(map[string]Entry)
	}
	return &manifest, nil
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
