package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tarchive/internal/config"
	"tarchive/internal/logging"
	"tarchive/internal/notifications"
	"tarchive/internal/queue"
	"tarchive/internal/tasks"
)

// Manager pulls queued tasks and dispatches them to handlers. Drive-bound
// kinds run on a single serial lane so only one task can ever own the tape
// hardware; preparation and inventory scans run concurrently on a small
// worker pool.
type Manager struct {
	cfg           *config.Config
	store         *queue.Store
	handlers      map[queue.Kind]tasks.Handler
	notifier      notifications.Service
	logger        *slog.Logger
	pollInterval  time.Duration
	retryInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, handlers map[queue.Kind]tasks.Handler, notifier notifications.Service, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:           cfg,
		store:         store,
		handlers:      handlers,
		notifier:      notifier,
		logger:        logger.With(logging.String(logging.FieldComponent, "workflow")),
		pollInterval:  time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	if len(m.handlers) == 0 {
		return errors.New("workflow handlers not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	workers := m.cfg.Workflow.AuxWorkers
	if workers < 1 {
		workers = 1
	}
	m.wg.Add(1 + workers)
	go m.runDriveLane(runCtx)
	for i := 0; i < workers; i++ {
		go m.runAuxWorker(runCtx, i)
	}
	return nil
}

// Stop terminates background processing and waits for in-flight tasks. The
// interrupted tasks are failed by the shutdown sweep, never left running.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runDriveLane(ctx context.Context) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String("lane", "drive"))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := m.nextDriveTask(ctx)
		if err != nil {
			m.backoff(ctx, logger, err)
			continue
		}
		if task == nil {
			m.waitForWork(ctx)
			continue
		}
		m.process(ctx, logger, task)
	}
}

func (m *Manager) runAuxWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String("lane", fmt.Sprintf("aux-%d", index)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := m.store.NextQueued(ctx, queue.AuxKinds()...)
		if err != nil {
			m.backoff(ctx, logger, err)
			continue
		}
		if task == nil {
			m.waitForWork(ctx)
			continue
		}
		m.process(ctx, logger, task)
	}
}

// nextDriveTask picks the oldest queued task the drive can currently serve.
// A held drive only admits the explore-unmount that ends the hold; a
// quarantined drive admits nothing until the operator clears it.
func (m *Manager) nextDriveTask(ctx context.Context) (*queue.Task, error) {
	state, err := m.store.GetDriveState(ctx)
	if err != nil {
		return nil, err
	}
	switch state.State {
	case queue.DriveFree:
		return m.store.NextQueued(ctx, queue.DriveBoundKinds()...)
	case queue.DriveHeld:
		return m.store.NextQueued(ctx, queue.KindExploreUnmount)
	default:
		return nil, nil
	}
}

func (m *Manager) process(ctx context.Context, logger *slog.Logger, task *queue.Task) {
	handler, ok := m.handlers[task.Kind]
	if !ok {
		logger.Error("no handler for task kind",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldTaskKind, string(task.Kind)))
		m.recordFailure(ctx, logger, task, fmt.Errorf("no handler for kind %s", task.Kind))
		return
	}

	claimed, err := m.store.Claim(ctx, task.ID)
	if err != nil {
		m.backoff(ctx, logger, err)
		return
	}
	if !claimed {
		return
	}

	requestID := uuid.NewString()
	taskLogger := logger.With(
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldTaskKind, string(task.Kind)),
		logging.String(logging.FieldRequestID, requestID))
	taskLogger.Info("task started",
		logging.String("target", task.TargetPath),
		logging.Int("attempt", task.Attempts+1))

	result, err := handler.Execute(ctx, task)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = fmt.Errorf("interrupted by daemon shutdown: %w", err)
		}
		taskLogger.Error("task failed", logging.Error(err))
		m.recordFailure(ctx, logger, task, err)
		return
	}

	if err := m.store.Complete(ctx, task.ID, result); err != nil {
		taskLogger.Error("completion not recorded", logging.Error(err))
		return
	}
	taskLogger.Info("task completed", logging.String("result", result))
}

func (m *Manager) recordFailure(ctx context.Context, logger *slog.Logger, task *queue.Task, cause error) {
	// Recording must survive the canceled run context.
	recordCtx := context.WithoutCancel(ctx)

	failure := tasks.Classify(cause, task.Phase)
	if err := m.store.Fail(recordCtx, task.ID, failure); err != nil {
		logger.Error("failure not recorded",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.Error(err))
	}

	if m.notifier == nil {
		return
	}
	if failure.Kind == queue.FailManualIntervention {
		if err := m.notifier.NotifyQuarantine(recordCtx, task.TapeID, failure.Message); err != nil {
			logger.Warn("notification not delivered", logging.Error(err))
		}
		return
	}
	if err := m.notifier.NotifyTaskFailed(recordCtx, string(task.Kind), task.TargetPath, cause); err != nil {
		logger.Warn("notification not delivered", logging.Error(err))
	}
}

func (m *Manager) backoff(ctx context.Context, logger *slog.Logger, err error) {
	logger.Error("queue access failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"))
	select {
	case <-ctx.Done():
	case <-time.After(m.retryInterval):
	}
}

func (m *Manager) waitForWork(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}
