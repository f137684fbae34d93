package tasks

import (
	"context"
	"log/slog"

	"tarchive/internal/arbiter"
	"tarchive/internal/config"
	"tarchive/internal/device"
	"tarchive/internal/logging"
	"tarchive/internal/notifications"
	"tarchive/internal/queue"
)

// Handler executes one task kind. Execute returns the result message stored
// with the completed task, or an error the workflow manager classifies and
// records.
type Handler interface {
	Kind() queue.Kind
	Execute(ctx context.Context, task *queue.Task) (string, error)
}

// Environment bundles the shared dependencies of all handlers.
type Environment struct {
	Config   *config.Config
	Store    *queue.Store
	Arbiter  *arbiter.Arbiter
	Driver   device.Driver
	Notifier notifications.Service
	Logger   *slog.Logger
}

func (e *Environment) logger(kind queue.Kind) *slog.Logger {
	base := e.Logger
	if base == nil {
		base = logging.NewNop()
	}
	return base.With(
		logging.String(logging.FieldComponent, "tasks"),
		logging.String(logging.FieldTaskKind, string(kind)),
	)
}

// Handlers builds the full handler set for the daemon.
func Handlers(env *Environment) map[queue.Kind]Handler {
	handlers := []Handler{
		NewPrepare(env),
		NewArchive(env),
		NewRestore(env),
		NewInventoryScan(env),
		NewExploreMount(env),
		NewExploreUnmount(env),
	}
	byKind := make(map[queue.Kind]Handler, len(handlers))
	for _, handler := range handlers {
		byKind[handler.Kind()] = handler
	}
	return byKind
}

func (e *Environment) setPhase(ctx context.Context, task *queue.Task, phase queue.Phase) {
	task.Phase = phase
	if err := e.Store.SetPhase(ctx, task.ID, phase); err != nil {
		e.logger(task.Kind).Warn("phase not recorded",
			logging.Int64(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldPhase, string(phase)),
			logging.Error(err))
	}
}
