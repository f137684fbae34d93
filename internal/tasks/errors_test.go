package tasks_test

import (
	"errors"
	"fmt"
	"testing"

	"tarchive/internal/arbiter"
	"tarchive/internal/device"
	"tarchive/internal/queue"
	"tarchive/internal/tasks"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected queue.FailureKind
	}{
		{
			name:     "quarantine outranks everything",
			err:      fmt.Errorf("archive: %w", arbiter.ErrQuarantined),
			expected: queue.FailManualIntervention,
		},
		{
			name:     "busy drive",
			err:      fmt.Errorf("acquire: %w", arbiter.ErrDriveBusy),
			expected: queue.FailResourceConflict,
		},
		{
			name:     "held drive",
			err:      fmt.Errorf("acquire: %w", arbiter.ErrDriveHeld),
			expected: queue.FailResourceConflict,
		},
		{
			name:     "unknown tape",
			err:      fmt.Errorf("mount: %w", arbiter.ErrTapeNotFound),
			expected: queue.FailInvalidRequest,
		},
		{
			name:     "invalid request",
			err:      tasks.Wrap(tasks.ErrInvalidRequest, "archive", "bad target", nil),
			expected: queue.FailInvalidRequest,
		},
		{
			name:     "verification failure",
			err:      tasks.Wrap(tasks.ErrVerificationFailed, "archive", "3 files diverge", nil),
			expected: queue.FailVerificationFailed,
		},
		{
			name:     "store failure",
			err:      fmt.Errorf("insert: %w", queue.ErrStore),
			expected: queue.FailStoreError,
		},
		{
			name:     "sense-coded hardware failure",
			err:      fmt.Errorf("load: %w", &device.SenseError{Op: "mtx load", Code: "3B/0D"}),
			expected: queue.FailDeviceError,
		},
		{
			name:     "hardware failure without parseable sense code",
			err:      fmt.Errorf("load: %w", &device.SenseError{Op: "mtx load", Output: "mtx: cannot open SCSI device"}),
			expected: queue.FailDeviceError,
		},
		{
			name:     "anything else",
			err:      errors.New("disk unplugged"),
			expected: queue.FailInternal,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			failure := tasks.Classify(tc.err, queue.PhaseTransfer)
			if failure.Kind != tc.expected {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, failure.Kind, tc.expected)
			}
			if failure.Phase != queue.PhaseTransfer {
				t.Fatalf("expected phase preserved, got %s", failure.Phase)
			}
		})
	}
}

func TestClassifyCarriesSenseCode(t *testing.T) {
	err := fmt.Errorf("unload: %w", &device.SenseError{Op: "mtx unload", Code: "52/00"})
	failure := tasks.Classify(err, queue.PhaseUnmounting)
	if failure.SenseCode != "52/00" {
		t.Fatalf("expected sense code carried, got %q", failure.SenseCode)
	}
}
