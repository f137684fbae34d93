package ipc

import (
	"time"

	"tarchive/internal/daemon"
	"tarchive/internal/queue"
)

// TaskView is the wire representation of a queue task.
type TaskView struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	State       string `json:"state"`
	Phase       string `json:"phase,omitempty"`
	TargetPath  string `json:"target_path,omitempty"`
	Description string `json:"description,omitempty"`
	TapeID      string `json:"tape_id,omitempty"`
	RestorePath string `json:"restore_path,omitempty"`
	Attempts    int    `json:"attempts"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
	SenseCode   string `json:"sense_code,omitempty"`
	Result      string `json:"result,omitempty"`
	CreatedAt   string `json:"created_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

func fromTask(task *queue.Task) TaskView {
	view := TaskView{
		ID:          task.ID,
		Kind:        string(task.Kind),
		State:       string(task.State),
		Phase:       string(task.Phase),
		TargetPath:  task.TargetPath,
		Description: task.Description,
		TapeID:      task.TapeID,
		RestorePath: task.RestorePath,
		Attempts:    task.Attempts,
		Result:      task.Result,
		CreatedAt:   task.CreatedAt.Format(time.RFC3339),
	}
	if task.LastError != nil {
		view.ErrorKind = string(task.LastError.Kind)
		view.Error = task.LastError.Message
		view.SenseCode = task.LastError.SenseCode
	}
	if task.FinishedAt != nil {
		view.FinishedAt = task.FinishedAt.Format(time.RFC3339)
	}
	return view
}

// TapeView is the wire representation of a cartridge.
type TapeView struct {
	TapeID        string `json:"tape_id"`
	CapacityBytes int64  `json:"capacity_bytes"`
	UsedBytes     int64  `json:"used_bytes"`
	Location      string `json:"location"`
	Slot          int    `json:"slot,omitempty"`
}

func fromTape(tape *queue.Tape) TapeView {
	return TapeView{
		TapeID:        tape.TapeID,
		CapacityBytes: tape.CapacityBytes,
		UsedBytes:     tape.UsedBytes,
		Location:      string(tape.Location),
		Slot:          tape.Slot,
	}
}

// FolderView is the wire representation of an archived folder.
type FolderView struct {
	ID                int64  `json:"id"`
	Path              string `json:"path"`
	Description       string `json:"description,omitempty"`
	TapeID            string `json:"tape_id"`
	PathOnTape        string `json:"path_on_tape"`
	ByteSize          int64  `json:"byte_size"`
	Compressed        bool   `json:"compressed,omitempty"`
	ArchivedAt        string `json:"archived_at"`
	VerificationState string `json:"verification_state"`
}

func fromFolder(folder *queue.ArchivedFolder) FolderView {
	return FolderView{
		ID:                folder.ID,
		Path:              folder.Path,
		Description:       folder.Description,
		TapeID:            folder.TapeID,
		PathOnTape:        folder.PathOnTape,
		ByteSize:          folder.ByteSize,
		Compressed:        folder.Compressed,
		ArchivedAt:        folder.ArchivedAt.Format(time.RFC3339),
		VerificationState: string(folder.VerificationState),
	}
}

// SubmitRequest submits a new task.
type SubmitRequest struct {
	Kind        string `json:"kind"`
	TargetPath  string `json:"target_path,omitempty"`
	Description string `json:"description,omitempty"`
	TapeID      string `json:"tape_id,omitempty"`
	RestorePath string `json:"restore_path,omitempty"`
	Compress    bool   `json:"compress,omitempty"`
}

func (r SubmitRequest) toDaemon() daemon.SubmitRequest {
	return daemon.SubmitRequest{
		Kind:        r.Kind,
		TargetPath:  r.TargetPath,
		Description: r.Description,
		TapeID:      r.TapeID,
		RestorePath: r.RestorePath,
		Compress:    r.Compress,
	}
}

// SubmitResponse returns the created task.
type SubmitResponse struct {
	Task TaskView `json:"task"`
}

// QueueListRequest filters the queue listing by state.
type QueueListRequest struct {
	States []string `json:"states,omitempty"`
}

// QueueListResponse contains the matching tasks.
type QueueListResponse struct {
	Tasks []TaskView `json:"tasks"`
}

// QueueDescribeRequest fetches a single task by id.
type QueueDescribeRequest struct {
	ID int64 `json:"id"`
}

// QueueDescribeResponse contains the task.
type QueueDescribeResponse struct {
	Task TaskView `json:"task"`
}

// RequeueRequest resets failed tasks to queued. An empty list means every
// failed task.
type RequeueRequest struct {
	IDs []int64 `json:"ids,omitempty"`
}

// RequeueResponse reports the outcome per submitted id.
type RequeueResponse struct {
	Updated  int64   `json:"updated"`
	Rejected []int64 `json:"rejected,omitempty"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// DependencyView reports availability of an external tool.
type DependencyView struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// StatusResponse reports daemon runtime information.
type StatusResponse struct {
	Running      bool             `json:"running"`
	PID          int              `json:"pid"`
	Queued       int              `json:"queued"`
	RunningTasks int              `json:"running_tasks"`
	Completed    int              `json:"completed"`
	Failed       int              `json:"failed"`
	DriveState   string           `json:"drive_state"`
	DriveTapeID  string           `json:"drive_tape_id,omitempty"`
	DriveReason  string           `json:"drive_reason,omitempty"`
	Dependencies []DependencyView `json:"dependencies,omitempty"`
	QueueDBPath  string           `json:"queue_db_path"`
	SocketPath   string           `json:"socket_path"`
	LockPath     string           `json:"lock_path"`
}

// LogTailRequest fetches log lines by offset. A negative offset requests the
// last Limit lines.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit,omitempty"`
	Follow     bool  `json:"follow,omitempty"`
	WaitMillis int   `json:"wait_millis,omitempty"`
}

// LogTailResponse returns log lines and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines,omitempty"`
	Offset int64    `json:"offset"`
}

// SummaryRequest fetches the per-tape usage report.
type SummaryRequest struct{}

// TapeSummaryView pairs a tape with its archived folders.
type TapeSummaryView struct {
	Tape    TapeView     `json:"tape"`
	Folders []FolderView `json:"folders,omitempty"`
}

// SummaryResponse contains the usage report.
type SummaryResponse struct {
	Tapes []TapeSummaryView `json:"tapes"`
}

// DeleteableRequest fetches the deleteable folder report.
type DeleteableRequest struct{}

// DeleteableFolderView is a deleteable folder with source presence.
type DeleteableFolderView struct {
	Folder        FolderView `json:"folder"`
	SourcePresent bool       `json:"source_present"`
}

// DeleteableResponse contains the report.
type DeleteableResponse struct {
	Folders []DeleteableFolderView `json:"folders"`
}

// TapesRequest lists every known cartridge.
type TapesRequest struct{}

// TapesResponse contains the cartridges.
type TapesResponse struct {
	Tapes []TapeView `json:"tapes"`
}

// QuarantineClearRequest asks the daemon to re-verify and free the drive.
type QuarantineClearRequest struct{}

// QuarantineClearResponse reports the outcome.
type QuarantineClearResponse struct {
	Cleared bool   `json:"cleared"`
	Message string `json:"message,omitempty"`
}

// TestNotificationRequest triggers a webhook test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the webhook test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
