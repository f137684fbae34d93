package device

import (
	"context"

	"tarchive/internal/config"
)

// Driver is the hardware surface the daemon programs against. The real
// implementation shells out to mtx and ltfs; tests substitute an in-memory
// library.
type Driver interface {
	// Inventory reads the current element status of the library.
	Inventory(ctx context.Context) (*Snapshot, error)
	// Load moves the cartridge in cartSlot into the drive.
	Load(ctx context.Context, cartSlot int) error
	// Unload returns the cartridge in the drive to cartSlot.
	Unload(ctx context.Context, cartSlot int) error
	// Mount mounts the LTFS filesystem of the loaded cartridge.
	Mount(ctx context.Context) error
	// Unmount flushes and unmounts the tape filesystem.
	Unmount(ctx context.Context) error
	// Mounted reports whether the tape filesystem is currently mounted.
	Mounted() (bool, error)
	// MountPoint is where the tape filesystem appears when mounted.
	MountPoint() string
}

type driver struct {
	*Changer
	*Mounter
}

// New builds the real hardware driver from configuration.
func New(cfg *config.Config) Driver {
	return &driver{
		Changer: NewChanger(cfg),
		Mounter: NewMounter(cfg),
	}
}
