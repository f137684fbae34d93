package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"tarchive/internal/arbiter"
	"tarchive/internal/config"
	"tarchive/internal/deps"
	"tarchive/internal/device"
	"tarchive/internal/logging"
	"tarchive/internal/notifications"
	"tarchive/internal/queue"
	"tarchive/internal/workflow"
)

// Daemon coordinates the workflow manager, the drive arbiter, and the
// changer monitor, and enforces single-instance execution via a lock file.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	driver   device.Driver
	arbiter  *arbiter.Arbiter
	workflow *workflow.Manager
	notifier notifications.Service
	monitor  *changerMonitor

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status is the runtime snapshot reported over IPC.
type Status struct {
	Running      bool
	PID          int
	QueueStats   queue.Stats
	Drive        queue.DriveState
	Dependencies []deps.Status
	QueueDBPath  string
	SocketPath   string
	LockFilePath string
}

// New constructs a daemon with initialized collaborators.
func New(cfg *config.Config, store *queue.Store, driver device.Driver, arb *arbiter.Arbiter, wf *workflow.Manager, notifier notifications.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || driver == nil || arb == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, driver, arbiter, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "tarchived.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		driver:   driver,
		arbiter:  arb,
		workflow: wf,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.monitor = newChangerMonitor(cfg, d.logger, d.onChangerLost)
	return d, nil
}

// Start acquires the instance lock, recovers state left by a prior run, and
// launches background processing. Drive-bound work is only admitted once the
// persisted drive state has been reconciled against the live inventory.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tarchived instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	fail := func(err error) error {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}

	swept, err := d.store.FailAllRunning(runCtx, queue.Failure{
		Kind:    queue.FailManualIntervention,
		Message: "daemon stopped while task was running",
	})
	if err != nil {
		return fail(fmt.Errorf("sweep interrupted tasks: %w", err))
	}
	if swept > 0 {
		d.logger.Warn("tasks interrupted by unclean shutdown marked failed",
			logging.Int64("swept", swept),
			logging.String(logging.FieldErrorHint, "inspect with tarchive queue --state failed, then requeue"))
	}

	if err := d.arbiter.Reconcile(runCtx); err != nil {
		return fail(fmt.Errorf("reconcile drive state: %w", err))
	}
	if err := d.syncInventory(runCtx); err != nil {
		d.logger.Warn("tape inventory sync failed", logging.Error(err))
	}

	if missing := deps.MissingRequired(deps.Check(deps.Requirements())); len(missing) > 0 {
		d.logger.Warn("required tape tools missing, drive-bound tasks will fail",
			logging.Any("missing", missing),
			logging.String(logging.FieldErrorHint, "install mtx and ltfs, then restart"))
	}

	if err := d.workflow.Start(runCtx); err != nil {
		return fail(fmt.Errorf("start workflow: %w", err))
	}
	if err := d.monitor.Start(runCtx); err != nil {
		d.logger.Warn("changer monitor unavailable", logging.Error(err))
	}

	d.running.Store(true)
	d.logger.Info("tarchived started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.cfg.DatabasePath()))
	return nil
}

// Stop halts background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.monitor.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("instance lock not released", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("tarchived stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Running reports whether background processing is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// syncInventory records every cartridge the changer reports. Tapes already
// known keep their usage accounting; new ones start at the configured
// capacity default.
func (d *Daemon) syncInventory(ctx context.Context) error {
	snapshot, err := d.driver.Inventory(ctx)
	if err != nil {
		return err
	}
	for tapeID, slot := range snapshot.SlotByTape {
		known, err := d.store.GetTape(ctx, tapeID)
		if err != nil {
			return err
		}
		if known == nil {
			err = d.store.UpsertTape(ctx, &queue.Tape{
				TapeID:        tapeID,
				CapacityBytes: d.cfg.Tape.CapacityBytes,
				Location:      queue.LocationSlot,
				Slot:          slot,
			})
		} else {
			err = d.store.SetTapeLocation(ctx, tapeID, queue.LocationSlot, slot)
		}
		if err != nil {
			return err
		}
	}
	if snapshot.DriveLoaded() {
		if err := d.store.SetTapeLocation(ctx, snapshot.DriveTapeID, queue.LocationDrive, 0); err != nil {
			// Drive-resident tape unknown to the store; reconcile already
			// decided whether that is safe.
			d.logger.Warn("drive-resident tape not recorded",
				logging.String(logging.FieldTapeID, snapshot.DriveTapeID),
				logging.Error(err))
		}
	}
	d.logger.Info("tape inventory synchronized", logging.Int("tapes", len(snapshot.SlotByTape)))
	return nil
}

// onChangerLost is invoked by the monitor when the changer device node
// disappears. A missing changer with work outstanding is the hazard the
// quarantine exists for.
func (d *Daemon) onChangerLost(ctx context.Context) {
	state, err := d.store.GetDriveState(ctx)
	if err != nil {
		d.logger.Error("drive state unavailable after changer loss", logging.Error(err))
		return
	}
	if state.State == queue.DriveQuarantined {
		return
	}
	if err := d.arbiter.Quarantine(ctx, state.TapeID, "changer device disappeared"); err != nil {
		d.logger.Error("quarantine after changer loss failed", logging.Error(err))
		return
	}
	if d.notifier != nil {
		if err := d.notifier.NotifyQuarantine(ctx, state.TapeID, "changer device disappeared"); err != nil {
			d.logger.Warn("notification not delivered", logging.Error(err))
		}
	}
}

// Queue lists tasks, optionally filtered by state. Without a filter it
// returns the active tasks plus the most recently finished ones, so the
// default listing stays bounded on a long-lived queue.
func (d *Daemon) Queue(ctx context.Context, states []queue.State) ([]*queue.Task, error) {
	if len(states) > 0 {
		return d.store.ListTasks(ctx, states...)
	}
	tasks, err := d.store.ListTasks(ctx, queue.StateQueued, queue.StateRunning)
	if err != nil {
		return nil, err
	}
	recent, err := d.store.ListRecentTerminal(ctx, 20)
	if err != nil {
		return nil, err
	}
	return append(tasks, recent...), nil
}

// GetTask fetches a single task by id.
func (d *Daemon) GetTask(ctx context.Context, id int64) (*queue.Task, error) {
	return d.store.GetTask(ctx, id)
}

// Requeue resets the given failed tasks to queued. IDs that are not in the
// failed state are reported back rather than silently skipped.
func (d *Daemon) Requeue(ctx context.Context, ids []int64) (int64, []int64, error) {
	if len(ids) == 0 {
		updated, err := d.store.RequeueAllFailed(ctx)
		return updated, nil, err
	}
	return d.store.Requeue(ctx, ids...)
}

// ClearQuarantine re-verifies the hardware and frees a quarantined drive.
func (d *Daemon) ClearQuarantine(ctx context.Context) error {
	if err := d.arbiter.ClearQuarantine(ctx); err != nil {
		return err
	}
	d.logger.Info("drive quarantine cleared by operator")
	return d.syncInventory(ctx)
}

// DriveState returns the arbiter's persisted view of the drive.
func (d *Daemon) DriveState(ctx context.Context) (*queue.DriveState, error) {
	return d.arbiter.State(ctx)
}

// Tapes lists every cartridge known to the store.
func (d *Daemon) Tapes(ctx context.Context) ([]*queue.Tape, error) {
	return d.store.ListTapes(ctx)
}

// TestNotification exercises the configured webhook end to end.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.WebhookURL) == "" {
		return false, "webhook URL not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the daemon log file location.
func (d *Daemon) LogPath() string {
	return d.cfg.LogPath()
}

// Status reports runtime and queue information.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	stats, err := d.store.TaskStats(ctx)
	if err != nil {
		return Status{}, err
	}
	drive, err := d.DriveState(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueStats:   stats,
		Drive:        *drive,
		Dependencies: deps.Check(deps.Requirements()),
		QueueDBPath:  d.store.Path(),
		SocketPath:   d.cfg.Paths.SocketPath,
		LockFilePath: d.lockPath,
	}, nil
}
