package testsupport

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"

	"tarchive/internal/device"
)

// FakeLibrary is an in-memory tape library implementing device.Driver. Tests
// seed it with cartridges and inject failures per operation.
type FakeLibrary struct {
	mu sync.Mutex

	DriveSlot  int
	MountDir   string
	slotByTape map[string]int
	freeSlots  map[int]struct{}
	driveTape  string
	mounted    bool

	LoadErr    error
	UnloadErr  error
	MountErr   error
	UnmountErr error

	Loads    int
	Unloads  int
	Mounts   int
	Unmounts int
}

// NewFakeLibrary builds a library with the given cartridges in storage slots
// starting at slot 1, plus one empty spare slot after them. Mounted filesystem
// content lives under mountDir.
func NewFakeLibrary(mountDir string, tapes ...string) *FakeLibrary {
	lib := &FakeLibrary{
		DriveSlot:  0,
		MountDir:   mountDir,
		slotByTape: make(map[string]int),
		freeSlots:  make(map[int]struct{}),
	}
	for i, tapeID := range tapes {
		lib.slotByTape[tapeID] = i + 1
	}
	lib.freeSlots[len(tapes)+1] = struct{}{}
	return lib
}

func (f *FakeLibrary) Inventory(ctx context.Context) (*device.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := &device.Snapshot{
		DriveSlot:   f.DriveSlot,
		DriveTapeID: f.driveTape,
		SlotByTape:  make(map[string]int, len(f.slotByTape)),
	}
	for tapeID, slot := range f.slotByTape {
		snapshot.SlotByTape[tapeID] = slot
	}
	for slot := range f.freeSlots {
		snapshot.FreeSlots = append(snapshot.FreeSlots, slot)
	}
	sort.Ints(snapshot.FreeSlots)
	return snapshot, nil
}

func (f *FakeLibrary) Load(ctx context.Context, cartSlot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Loads++
	if f.LoadErr != nil {
		return f.LoadErr
	}
	if f.driveTape != "" {
		return errors.New("drive already holds a cartridge")
	}
	for tapeID, slot := range f.slotByTape {
		if slot == cartSlot {
			f.driveTape = tapeID
			delete(f.slotByTape, tapeID)
			f.freeSlots[cartSlot] = struct{}{}
			return nil
		}
	}
	return errors.New("slot is empty")
}

func (f *FakeLibrary) Unload(ctx context.Context, cartSlot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Unloads++
	if f.UnloadErr != nil {
		return f.UnloadErr
	}
	if f.driveTape == "" {
		return errors.New("drive is empty")
	}
	if f.mounted {
		return errors.New("cartridge still mounted")
	}
	if _, free := f.freeSlots[cartSlot]; !free {
		return errors.New("destination slot occupied")
	}
	delete(f.freeSlots, cartSlot)
	f.slotByTape[f.driveTape] = cartSlot
	f.driveTape = ""
	return nil
}

func (f *FakeLibrary) Mount(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Mounts++
	if f.MountErr != nil {
		return f.MountErr
	}
	if f.driveTape == "" {
		return errors.New("drive is empty")
	}
	if err := os.MkdirAll(f.MountDir, 0o755); err != nil {
		return err
	}
	f.mounted = true
	return nil
}

func (f *FakeLibrary) Unmount(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Unmounts++
	if f.UnmountErr != nil {
		return f.UnmountErr
	}
	f.mounted = false
	return nil
}

func (f *FakeLibrary) Mounted() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted, nil
}

func (f *FakeLibrary) MountPoint() string {
	return f.MountDir
}

// DriveTape returns the cartridge currently in the drive, or "".
func (f *FakeLibrary) DriveTape() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.driveTape
}

// InsertTape places a cartridge into the given storage slot.
func (f *FakeLibrary) InsertTape(tapeID string, slot int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.freeSlots, slot)
	f.slotByTape[tapeID] = slot
}

// ForceDriveTape seeds a cartridge directly into the drive, bypassing the
// changer, to model the state after an unclean daemon stop. A cartridge
// seeded in a storage slot vacates it.
func (f *FakeLibrary) ForceDriveTape(tapeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slot, ok := f.slotByTape[tapeID]; ok {
		delete(f.slotByTape, tapeID)
		f.freeSlots[slot] = struct{}{}
	}
	f.driveTape = tapeID
}
