package tasks

import (
	"errors"
	"fmt"
	"strings"

	"tarchive/internal/arbiter"
	"tarchive/internal/device"
	"tarchive/internal/queue"
)

var (
	// ErrInvalidRequest marks failures caused by the request itself: missing
	// paths, unknown tapes, or targets that were already archived.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrVerificationFailed marks a manifest mismatch between source data
	// and its copy on tape.
	ErrVerificationFailed = errors.New("verification failed")
)

// Wrap builds an error message with operation context while tagging it with
// the provided marker for later failure classification.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = errors.New("task failure")
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps a handler error to the structured failure record persisted
// with the task.
func Classify(err error, phase queue.Phase) queue.Failure {
	failure := queue.Failure{
		Kind:    queue.FailInternal,
		Phase:   phase,
		Message: err.Error(),
	}
	switch {
	case errors.Is(err, arbiter.ErrQuarantined):
		failure.Kind = queue.FailManualIntervention
	case errors.Is(err, arbiter.ErrDriveBusy), errors.Is(err, arbiter.ErrDriveHeld):
		failure.Kind = queue.FailResourceConflict
	case errors.Is(err, arbiter.ErrTapeNotFound), errors.Is(err, ErrInvalidRequest):
		failure.Kind = queue.FailInvalidRequest
	case errors.Is(err, ErrVerificationFailed):
		failure.Kind = queue.FailVerificationFailed
	case errors.Is(err, queue.ErrStore):
		failure.Kind = queue.FailStoreError
	default:
		var senseErr *device.SenseError
		if errors.As(err, &senseErr) {
			failure.Kind = queue.FailDeviceError
		}
	}
	failure.SenseCode = device.SenseCode(err)
	return failure
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "task failure"
	}
	return strings.Join(parts, ": ")
}
