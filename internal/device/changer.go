package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/kbj/mtx"

	"tarchive/internal/config"
)

// Snapshot is a point-in-time view of the library's element status.
type Snapshot struct {
	DriveSlot   int
	DriveTapeID string
	SlotByTape  map[string]int
	FreeSlots   []int
}

// DriveLoaded reports whether a cartridge sits in the drive.
func (s *Snapshot) DriveLoaded() bool {
	return s != nil && s.DriveTapeID != ""
}

// Tapes returns the identifiers of all cartridges in storage slots.
func (s *Snapshot) Tapes() []string {
	if s == nil {
		return nil
	}
	tapes := make([]string, 0, len(s.SlotByTape))
	for tapeID := range s.SlotByTape {
		tapes = append(tapes, tapeID)
	}
	return tapes
}

// mtxRunner shells out to the mtx binary against the configured changer
// device. It satisfies the command provider contract of the mtx package.
type mtxRunner struct {
	device string
}

func (r *mtxRunner) Do(args ...string) ([]byte, error) {
	cmdArgs := append([]string{"-f", r.device}, args...)
	output, err := exec.Command("mtx", cmdArgs...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, &SenseError{
				Op:     "mtx " + args[0],
				Code:   parseSense(string(exitErr.Stderr)),
				Output: string(exitErr.Stderr),
				Err:    err,
			}
		}
		return output, fmt.Errorf("run mtx: %w", err)
	}
	return output, nil
}

// Changer moves cartridges between storage slots and the archive drive.
type Changer struct {
	changer   *mtx.Changer
	driveSlot int
}

// NewChanger builds a changer bound to the configured library device.
func NewChanger(cfg *config.Config) *Changer {
	return &Changer{
		changer:   mtx.NewChanger(&mtxRunner{device: cfg.Library.ChangerDevice}),
		driveSlot: cfg.Library.DriveSlot,
	}
}

// Inventory reads the element status of the library. Only the configured
// drive is reported; additional drives in the library are ignored.
func (c *Changer) Inventory(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		DriveSlot:  c.driveSlot,
		SlotByTape: make(map[string]int),
	}

	drives, err := c.changer.Drives()
	if err != nil {
		return nil, fmt.Errorf("read drive elements: %w", err)
	}
	for _, drive := range drives {
		if drive.Type != mtx.DataTransferSlot || drive.Num != c.driveSlot {
			continue
		}
		if drive.Vol != nil {
			snapshot.DriveTapeID = drive.Vol.Serial
		}
	}

	slots, err := c.changer.Slots()
	if err != nil {
		return nil, fmt.Errorf("read storage elements: %w", err)
	}
	for _, slot := range slots {
		if slot.Type != mtx.StorageSlot {
			continue
		}
		if slot.Vol == nil {
			snapshot.FreeSlots = append(snapshot.FreeSlots, slot.Num)
			continue
		}
		snapshot.SlotByTape[slot.Vol.Serial] = slot.Num
	}
	return snapshot, nil
}

// Load moves the cartridge in cartSlot into the archive drive.
func (c *Changer) Load(ctx context.Context, cartSlot int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.changer.Load(cartSlot, c.driveSlot); err != nil {
		return fmt.Errorf("load slot %s into drive %d: %w", strconv.Itoa(cartSlot), c.driveSlot, err)
	}
	return nil
}

// Unload returns the cartridge in the archive drive to cartSlot.
func (c *Changer) Unload(ctx context.Context, cartSlot int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.changer.Unload(cartSlot, c.driveSlot); err != nil {
		return fmt.Errorf("unload drive %d to slot %s: %w", c.driveSlot, strconv.Itoa(cartSlot), err)
	}
	return nil
}
