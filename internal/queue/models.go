package queue

import (
	"strings"
	"time"
)

// Kind identifies the work a task performs.
type Kind string

const (
	KindPrepare        Kind = "prepare"
	KindArchive        Kind = "archive"
	KindRestore        Kind = "restore"
	KindInventoryScan  Kind = "inventory-scan"
	KindExploreMount   Kind = "explore-mount"
	KindExploreUnmount Kind = "explore-unmount"
)

var allKinds = []Kind{
	KindPrepare,
	KindArchive,
	KindRestore,
	KindInventoryScan,
	KindExploreMount,
	KindExploreUnmount,
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	normalized := Kind(strings.ToLower(strings.TrimSpace(value)))
	for _, kind := range allKinds {
		if kind == normalized {
			return kind, true
		}
	}
	return "", false
}

// DriveBoundKinds returns the kinds served by the drive lane.
func DriveBoundKinds() []Kind {
	return []Kind{KindArchive, KindRestore, KindExploreMount, KindExploreUnmount}
}

// AuxKinds returns the kinds that run without the drive.
func AuxKinds() []Kind {
	return []Kind{KindPrepare, KindInventoryScan}
}

// State is the task lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	switch State(strings.ToLower(strings.TrimSpace(value))) {
	case StateQueued:
		return StateQueued, true
	case StateRunning:
		return StateRunning, true
	case StateCompleted:
		return StateCompleted, true
	case StateFailed:
		return StateFailed, true
	default:
		return "", false
	}
}

// Phase is the hardware sub-phase a running task is in.
type Phase string

const (
	PhaseAcquiring   Phase = "acquiring-resource"
	PhaseLoading     Phase = "loading-tape"
	PhaseMounting    Phase = "mounting"
	PhaseTransfer    Phase = "transferring"
	PhaseVerifying   Phase = "verifying"
	PhaseUnmounting  Phase = "unmounting"
	PhaseReleasing   Phase = "releasing-resource"
	PhaseMeasuring   Phase = "measuring"
	PhaseCompressing Phase = "compressing"
	PhaseScanning    Phase = "scanning"
)

// FailureKind classifies a recorded task failure.
type FailureKind string

const (
	FailInvalidRequest     FailureKind = "invalid-request"
	FailResourceConflict   FailureKind = "resource-conflict"
	FailDeviceError        FailureKind = "device-error"
	FailVerificationFailed FailureKind = "verification-failed"
	FailStoreError         FailureKind = "store-error"
	FailManualIntervention FailureKind = "manual-intervention-required"
	FailInternal           FailureKind = "internal"
)

// Failure is the structured error record persisted with a failed task.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	Phase     Phase       `json:"phase,omitempty"`
	Message   string      `json:"message"`
	SenseCode string      `json:"sense_code,omitempty"`
}

// Task is a durable unit of work.
type Task struct {
	ID          int64
	Kind        Kind
	TargetPath  string
	Description string
	TapeID      string
	RestorePath string
	Compress    bool
	State       State
	Phase       Phase
	Attempts    int
	LastError   *Failure
	Result      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// TapeLocation describes where a cartridge currently is.
type TapeLocation string

const (
	LocationSlot    TapeLocation = "slot"
	LocationDrive   TapeLocation = "drive"
	LocationEjected TapeLocation = "ejected"
)

// Tape is a physical cartridge known to the store.
type Tape struct {
	TapeID        string
	CapacityBytes int64
	UsedBytes     int64
	Location      TapeLocation
	Slot          int
	LastSeenAt    time.Time
}

// VerificationState tracks how far an archived folder has been validated.
type VerificationState string

const (
	VerificationUnverified VerificationState = "unverified"
	VerificationVerified   VerificationState = "verified"
	VerificationDeleteable VerificationState = "deleteable"
)

// ArchivedFolder binds a source folder to its copy on tape.
type ArchivedFolder struct {
	ID                int64
	Path              string
	Description       string
	TapeID            string
	PathOnTape        string
	ByteSize          int64
	Compressed        bool
	ChecksumManifest  string
	ArchivedAt        time.Time
	VerificationState VerificationState
}

// DriveStateKind is the arbiter's persisted view of the drive.
type DriveStateKind string

const (
	DriveFree        DriveStateKind = "free"
	DriveBusy        DriveStateKind = "busy"
	DriveHeld        DriveStateKind = "held"
	DriveQuarantined DriveStateKind = "quarantined"
)

// DriveState is the singleton arbiter record reconciled at startup.
type DriveState struct {
	State        DriveStateKind
	TapeID       string
	HolderTaskID int64
	Reason       string
	UpdatedAt    time.Time
}

// Stats counts tasks per state.
type Stats struct {
	Queued    int
	Running   int
	Completed int
	Failed    int
}

// Total returns the number of tasks across all states.
func (s Stats) Total() int {
	return s.Queued + s.Running + s.Completed + s.Failed
}
