package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"tarchive/internal/daemon"
	"tarchive/internal/logging"
	"tarchive/internal/logs"
	"tarchive/internal/queue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName("Tarchived", srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			if err := checkPeer(conn); err != nil {
				s.logger.Warn("connection refused", logging.Error(err))
				_ = conn.Close()
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("socket not removed",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	task, err := s.daemon.Submit(s.ctx, req.toDaemon())
	if err != nil {
		return err
	}
	resp.Task = fromTask(task)
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	states := make([]queue.State, 0, len(req.States))
	for _, raw := range req.States {
		state, ok := queue.ParseState(raw)
		if !ok {
			return fmt.Errorf("unknown task state %q", raw)
		}
		states = append(states, state)
	}
	tasks, err := s.daemon.Queue(s.ctx, states)
	if err != nil {
		return err
	}
	resp.Tasks = make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, fromTask(task))
	}
	return nil
}

func (s *service) QueueDescribe(req QueueDescribeRequest, resp *QueueDescribeResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid task id %d", req.ID)
	}
	task, err := s.daemon.GetTask(s.ctx, req.ID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %d not found", req.ID)
	}
	resp.Task = fromTask(task)
	return nil
}

func (s *service) Requeue(req RequeueRequest, resp *RequeueResponse) error {
	updated, rejected, err := s.daemon.Requeue(s.ctx, req.IDs)
	if err != nil {
		return err
	}
	resp.Updated = updated
	resp.Rejected = rejected
	s.logger.Info("tasks requeued via IPC",
		logging.Int64("updated", updated),
		logging.Int("rejected", len(rejected)))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status, err := s.daemon.Status(s.ctx)
	if err != nil {
		return err
	}
	resp.Running = status.Running
	resp.PID = status.PID
	resp.Queued = status.QueueStats.Queued
	resp.RunningTasks = status.QueueStats.Running
	resp.Completed = status.QueueStats.Completed
	resp.Failed = status.QueueStats.Failed
	resp.DriveState = string(status.Drive.State)
	resp.DriveTapeID = status.Drive.TapeID
	resp.DriveReason = status.Drive.Reason
	for _, dep := range status.Dependencies {
		resp.Dependencies = append(resp.Dependencies, DependencyView{
			Name:      dep.Name,
			Available: dep.Available,
			Detail:    dep.Detail,
		})
	}
	resp.QueueDBPath = status.QueueDBPath
	resp.SocketPath = status.SocketPath
	resp.LockPath = status.LockFilePath
	return nil
}

func (s *service) Summary(_ SummaryRequest, resp *SummaryResponse) error {
	summary, err := s.daemon.Summary(s.ctx)
	if err != nil {
		return err
	}
	resp.Tapes = make([]TapeSummaryView, 0, len(summary.Tapes))
	for _, entry := range summary.Tapes {
		view := TapeSummaryView{Tape: fromTape(entry.Tape)}
		for _, folder := range entry.Folders {
			view.Folders = append(view.Folders, fromFolder(folder))
		}
		resp.Tapes = append(resp.Tapes, view)
	}
	return nil
}

func (s *service) DeleteableReport(_ DeleteableRequest, resp *DeleteableResponse) error {
	report, err := s.daemon.DeleteableReport(s.ctx)
	if err != nil {
		return err
	}
	resp.Folders = make([]DeleteableFolderView, 0, len(report))
	for _, entry := range report {
		resp.Folders = append(resp.Folders, DeleteableFolderView{
			Folder:        fromFolder(entry.Folder),
			SourcePresent: entry.SourcePresent,
		})
	}
	return nil
}

func (s *service) Tapes(_ TapesRequest, resp *TapesResponse) error {
	tapes, err := s.daemon.Tapes(s.ctx)
	if err != nil {
		return err
	}
	resp.Tapes = make([]TapeView, 0, len(tapes))
	for _, tape := range tapes {
		resp.Tapes = append(resp.Tapes, fromTape(tape))
	}
	return nil
}

func (s *service) QuarantineClear(_ QuarantineClearRequest, resp *QuarantineClearResponse) error {
	if err := s.daemon.ClearQuarantine(s.ctx); err != nil {
		resp.Cleared = false
		resp.Message = err.Error()
		return nil
	}
	resp.Cleared = true
	resp.Message = "drive freed"
	s.logger.Info("quarantine cleared via IPC")
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if req.Follow && wait <= 0 {
		wait = time.Second
	}

	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}

	result, err := logs.Tail(ctx, s.daemon.LogPath(), logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
