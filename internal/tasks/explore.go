package tasks

import (
	"context"
	"fmt"

	"tarchive/internal/logging"
	"tarchive/internal/queue"
)

// ExploreMountHandler mounts a cartridge for read-only browsing and parks
// the drive in the held state. The hold blocks archives and restores until a
// matching explore-unmount task runs, so exploration is an explicit,
// bounded occupation of the drive.
type ExploreMountHandler struct {
	env *Environment
}

// NewExploreMount builds the explore mount handler.
func NewExploreMount(env *Environment) *ExploreMountHandler {
	return &ExploreMountHandler{env: env}
}

func (h *ExploreMountHandler) Kind() queue.Kind {
	return queue.KindExploreMount
}

func (h *ExploreMountHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	tape, err := h.env.Store.GetTape(ctx, task.TapeID)
	if err != nil {
		return "", err
	}
	if tape == nil {
		return "", Wrap(ErrInvalidRequest, "explore",
			fmt.Sprintf("tape %s is not known to the library", task.TapeID), nil)
	}

	h.env.setPhase(ctx, task, queue.PhaseAcquiring)
	if err := h.env.Arbiter.Acquire(ctx, task.ID); err != nil {
		return "", err
	}

	h.env.setPhase(ctx, task, queue.PhaseMounting)
	if err := h.env.Arbiter.EnsureMounted(ctx, task.TapeID); err != nil {
		releaseDrive(ctx, h.env, task, err)
		return "", err
	}

	if err := h.env.Arbiter.Hold(ctx, task.ID, task.TapeID); err != nil {
		releaseDrive(ctx, h.env, task, err)
		return "", err
	}

	h.env.logger(task.Kind).Info("cartridge mounted for exploration",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldTapeID, task.TapeID))
	return fmt.Sprintf("%s mounted at %s; drive held until explore-unmount",
		task.TapeID, h.env.Driver.MountPoint()), nil
}

// ExploreUnmountHandler ends an exploration: it unmounts the held cartridge,
// returns it to a storage slot, and frees the drive.
type ExploreUnmountHandler struct {
	env *Environment
}

// NewExploreUnmount builds the explore unmount handler.
func NewExploreUnmount(env *Environment) *ExploreUnmountHandler {
	return &ExploreUnmountHandler{env: env}
}

func (h *ExploreUnmountHandler) Kind() queue.Kind {
	return queue.KindExploreUnmount
}

func (h *ExploreUnmountHandler) Execute(ctx context.Context, task *queue.Task) (string, error) {
	h.env.setPhase(ctx, task, queue.PhaseAcquiring)
	tapeID, err := h.env.Arbiter.AcquireHeld(ctx, task.ID)
	if err != nil {
		return "", err
	}

	h.env.setPhase(ctx, task, queue.PhaseUnmounting)
	if err := h.env.Arbiter.Dismount(ctx); err != nil {
		return "", err
	}
	h.env.setPhase(ctx, task, queue.PhaseReleasing)
	if err := h.env.Arbiter.Release(ctx); err != nil {
		return "", err
	}

	h.env.logger(task.Kind).Info("exploration ended",
		logging.Int64(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldTapeID, tapeID))
	return fmt.Sprintf("%s unmounted and returned to its slot", tapeID), nil
}
