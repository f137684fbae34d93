package device

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseSense(t *testing.T) {
	cases := []struct {
		name     string
		output   string
		expected string
	}{
		{
			name:     "mtx move refusal",
			output:   "mtx: Request Sense: Sense Key=Hardware Error\nmtx: Request Sense: ASC = 3B ASCQ = 0D\n",
			expected: "3B/0D",
		},
		{
			name:     "lowercase hex",
			output:   "ASC = 5a ASCQ = 01",
			expected: "5A/01",
		},
		{
			name:     "no sense data",
			output:   "umount: /mnt/ltfs: target is busy",
			expected: "",
		},
		{
			name:     "empty",
			output:   "",
			expected: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseSense(tc.output); got != tc.expected {
				t.Fatalf("parseSense(%q) = %q, want %q", tc.output, got, tc.expected)
			}
		})
	}
}

func TestSenseCodeExtraction(t *testing.T) {
	senseErr := &SenseError{Op: "mtx load", Code: "3B/0D"}
	wrapped := fmt.Errorf("load slot 4: %w", senseErr)
	if got := SenseCode(wrapped); got != "3B/0D" {
		t.Fatalf("SenseCode = %q, want 3B/0D", got)
	}
	if got := SenseCode(errors.New("plain failure")); got != "" {
		t.Fatalf("expected empty code for plain error, got %q", got)
	}
}

func TestMountedIn(t *testing.T) {
	mounts := strings.NewReader(
		"/dev/sda1 / ext4 rw,relatime 0 0\n" +
			"ltfs:/dev/sg4 /mnt/ltfs fuse.ltfs rw,nosuid,nodev 0 0\n",
	)
	mounted, err := mountedIn(mounts, "/mnt/ltfs")
	if err != nil {
		t.Fatalf("mountedIn failed: %v", err)
	}
	if !mounted {
		t.Fatal("expected /mnt/ltfs to be reported mounted")
	}

	absent, err := mountedIn(strings.NewReader("/dev/sda1 / ext4 rw 0 0\n"), "/mnt/ltfs")
	if err != nil {
		t.Fatalf("mountedIn failed: %v", err)
	}
	if absent {
		t.Fatal("expected /mnt/ltfs to be reported unmounted")
	}
}
